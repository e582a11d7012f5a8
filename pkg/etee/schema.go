package etee

import (
	"bytes"
	_ "embed" // schema file
	"sync"

	"github.com/robotalks/etee.go/pkg/widget"
)

//go:embed etee_controller.yaml
var schemaYAML []byte

var (
	defaultSchema     *widget.Schema
	defaultSchemaOnce sync.Once
)

// DefaultSchema returns the built-in data packet schema of the controller.
func DefaultSchema() *widget.Schema {
	defaultSchemaOnce.Do(func() {
		s, err := widget.LoadSchema(bytes.NewReader(schemaYAML))
		if err != nil {
			panic("etee: invalid built-in schema: " + err.Error())
		}
		defaultSchema = s
	})
	return defaultSchema
}

// SchemaYAML returns the built-in schema file, e.g. as a template.
func SchemaYAML() []byte {
	return append([]byte(nil), schemaYAML...)
}

// Widget names used by the session itself.
const (
	KeyHand = "hand"
)

var (
	accelKeys = []string{"accel_x", "accel_y", "accel_z"}
	gyroKeys  = []string{"gyro_x", "gyro_y", "gyro_z"}
	magKeys   = []string{"mag_x", "mag_y", "mag_z"}
)
