// Package macutil probes the darwin host through sysctl.
package macutil
