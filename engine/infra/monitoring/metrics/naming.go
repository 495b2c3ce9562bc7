package metrics

import "strings"

// Namespace prefixes every metric exported by the service.
const Namespace = "policychat"

// MetricName prefixes name with the service namespace unless already present.
func MetricName(name string) string {
	if strings.HasPrefix(name, Namespace+"_") {
		return name
	}
	return Namespace + "_" + name
}

// MetricNameWithSubsystem builds namespace_subsystem_name.
func MetricNameWithSubsystem(subsystem, name string) string {
	subsystem = strings.Trim(subsystem, "_")
	if name == "" {
		return MetricName(subsystem)
	}
	if subsystem == "" {
		return MetricName(name)
	}
	return MetricName(subsystem + "_" + name)
}
