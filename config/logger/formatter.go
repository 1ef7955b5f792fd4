// Package logger configures logrus and prefixes human readable log messages
// with the replication group and component.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NamespaceFormatter is a logrus formatter that turns the 'group' and
// 'component' fields into a log prefix for nicer formatted text output.
type NamespaceFormatter struct {
	Parent logrus.Formatter
}

// Format implements logrus.Formatter
func (f *NamespaceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	group, hasGroup := entry.Data["group"].(string)
	component, hasComponent := entry.Data["component"].(string)
	switch {
	case hasGroup && hasComponent:
		entry.Message = fmt.Sprintf("[%-20s] %s", group+"/"+component, entry.Message)
	case hasGroup:
		entry.Message = fmt.Sprintf("[%-20s] %s", group, entry.Message)
	case hasComponent:
		entry.Message = fmt.Sprintf("[%-20s] %s", component, entry.Message)
	}
	return f.Parent.Format(entry)
}
