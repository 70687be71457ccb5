package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lvonguyen/mistsync/internal/devices"
)

// TestClassify verifies class selection by type and model prefix.
func TestClassify(t *testing.T) {
	classes := DefaultCIClasses()
	classes.SRX = "u_srx_router"
	classes.SSR = "u_ssr_router (Session Smart)"
	c := NewClassifier(classes, nil)

	tests := []struct {
		name       string
		deviceType devices.DeviceType
		model      string
		want       string
	}{
		{"access point", devices.DeviceTypeAP, "AP43", DefaultCIClassAP},
		{"switch", devices.DeviceTypeSwitch, "EX4300-48P", DefaultCIClassSwitch},
		{"srx", devices.DeviceTypeGateway, "SRX345", "u_srx_router"},
		{"srx lower case", devices.DeviceTypeGateway, "srx300", "u_srx_router"},
		{"vsrx", devices.DeviceTypeGateway, "vSRX", "u_srx_router"},
		{"ssr", devices.DeviceTypeGateway, "SSR120", "u_ssr_router"},
		{"other gateway", devices.DeviceTypeGateway, "NFX250", DefaultCIClassRouter},
		{"gateway without model", devices.DeviceTypeGateway, "", DefaultCIClassRouter},
		{"unknown type", devices.DeviceType("mxedge"), "ME-100", DefaultCIClassFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.deviceType, tt.model))
		})
	}
}

// TestNewClassifier_FallsBackWithWarning verifies invalid or missing class
// names fall back to defaults and log a warning each.
func TestNewClassifier_FallsBackWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	classes := DefaultCIClasses()
	classes.SRX = "Not A Class"
	classes.Switch = "   "

	c := NewClassifier(classes, zap.New(core))

	assert.Equal(t, DefaultCIClassSRX, c.Classes().SRX)
	assert.Equal(t, DefaultCIClassSwitch, c.Classes().Switch)
	assert.Equal(t, DefaultCIClassAP, c.Classes().AP)
	assert.Equal(t, 2, logs.Len())
}

// TestClassify_UnknownTypeWarns verifies the fallback path logs.
func TestClassify_UnknownTypeWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewClassifier(DefaultCIClasses(), zap.New(core))

	assert.Equal(t, DefaultCIClassFallback, c.Classify("", ""))
	assert.Equal(t, 1, logs.FilterMessage("unable to classify device, using fallback class").Len())
}

// TestDetectHardwareModel verifies SSR platform extraction.
func TestDetectHardwareModel(t *testing.T) {
	tests := []struct {
		name  string
		model string
		hw    string
		want  string
	}{
		{"srx passthrough", "SRX345", "", "SRX345"},
		{"ssr without hardware", "SSR", "", "SSR"},
		{"juniper ssr", "SSR", "Juniper Networks Inc. (SSR130)", "SSR130"},
		{"juniper without ssr marker", "SSR", "Juniper Networks Inc. Appliance", "SSR (Juniper Networks Inc. Appliance)"},
		{"white box", "SSR", "Dell Inc. PowerEdge R240", "SSR (Dell Inc. PowerEdge R240)"},
		{"hardware ignored for non ssr", "SRX300", "Juniper Networks Inc. (SSR130)", "SRX300"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectHardwareModel(moduleStat(tt.model, tt.hw))
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestVisibility verifies the two-tier gate.
func TestVisibility(t *testing.T) {
	both := &devices.Device{Attributes: devices.NewAttributeSet(devices.AttrAssigned, devices.AttrDiscovered)}
	assignedOnly := &devices.Device{Attributes: devices.NewAttributeSet(devices.AttrAssigned)}
	seenOnly := &devices.Device{Attributes: devices.NewAttributeSet(devices.AttrDiscovered)}
	neither := &devices.Device{}

	strict := VisibilityFromStatus("connected")
	assert.True(t, strict.Admits(both))
	assert.False(t, strict.Admits(assignedOnly))
	assert.False(t, strict.Admits(seenOnly))

	assigned := VisibilityFromStatus("Assigned")
	assert.Equal(t, Visibility{Assigned: true}, assigned)
	assert.True(t, assigned.Admits(assignedOnly))
	assert.False(t, assigned.Admits(seenOnly))

	claimed := VisibilityFromStatus("claimed")
	assert.True(t, claimed.Admits(neither))
}

// TestCheckDiscriminator verifies unknown modes fall back to the slot form.
func TestCheckDiscriminator(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	assert.Equal(t, DiscriminatorMAC, checkDiscriminator(DiscriminatorMAC, "switch", logger))
	assert.Equal(t, DiscriminatorSlot, checkDiscriminator("", "switch", logger))
	assert.Equal(t, 0, logs.Len())

	assert.Equal(t, DiscriminatorSlot, checkDiscriminator("Hostname", "gateway", logger))
	assert.Equal(t, 1, logs.Len())
}
