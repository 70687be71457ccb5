package normalization

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/devices"
)

var ciClassPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Classifier maps a device type and model to a CI class name.
type Classifier struct {
	classes CIClasses
	logger  *zap.Logger
}

// NewClassifier creates a classifier. Missing or invalid class names fall
// back to the built-in defaults with a warning.
func NewClassifier(classes CIClasses, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultCIClasses()
	c := &Classifier{logger: logger}
	c.classes = CIClasses{
		AP:       c.resolve("ap", classes.AP, defaults.AP),
		Switch:   c.resolve("switch", classes.Switch, defaults.Switch),
		SRX:      c.resolve("srx", classes.SRX, defaults.SRX),
		SSR:      c.resolve("ssr", classes.SSR, defaults.SSR),
		Router:   c.resolve("router", classes.Router, defaults.Router),
		Fallback: c.resolve("fallback", classes.Fallback, defaults.Fallback),
	}
	return c
}

func (c *Classifier) resolve(name, configured, fallback string) string {
	fields := strings.Fields(configured)
	if len(fields) == 0 {
		c.logger.Warn("CI class not configured, using default",
			zap.String("class", name),
			zap.String("default", fallback))
		return fallback
	}
	if !ciClassPattern.MatchString(fields[0]) {
		c.logger.Warn("invalid CI class, using default",
			zap.String("class", name),
			zap.String("configured", configured),
			zap.String("default", fallback))
		return fallback
	}
	return fields[0]
}

// Classes returns the effective class names.
func (c *Classifier) Classes() CIClasses {
	return c.classes
}

// Classify returns the CI class for a device. It never fails: an unexpected
// type resolves to the fallback class.
func (c *Classifier) Classify(deviceType devices.DeviceType, model string) string {
	switch deviceType {
	case devices.DeviceTypeAP:
		return c.classes.AP
	case devices.DeviceTypeSwitch:
		return c.classes.Switch
	case devices.DeviceTypeGateway:
		m := strings.ToLower(model)
		switch {
		case strings.HasPrefix(m, "srx"), strings.HasPrefix(m, "vsrx"):
			return c.classes.SRX
		case strings.HasPrefix(m, "ssr"):
			return c.classes.SSR
		default:
			return c.classes.Router
		}
	}

	c.logger.Warn("unable to classify device, using fallback class",
		zap.String("device_type", string(deviceType)),
		zap.String("model", model),
		zap.String("ci_class", c.classes.Fallback))
	return c.classes.Fallback
}
