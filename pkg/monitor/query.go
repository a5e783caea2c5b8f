package monitor

// GetServiceStatus returns the health records of the named services. A nil
// names returns every service that has a record; a requested service
// without records maps to nil.
func (m *Monitor) GetServiceStatus(names []string) map[string][]InstanceHealth {
	return m.health.snapshot(names)
}

// InstanceCounts returns how many tracked instances are online and offline
func (m *Monitor) InstanceCounts() (online, offline int) {
	return m.health.counts()
}
