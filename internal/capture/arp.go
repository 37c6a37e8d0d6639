package capture

// ARPObserver receives (sender_mac -> target_ip) pairs seen in ARP
// requests, feeding the Gateway Detector's ARP-destination-diversity table
// (spec §4.3 step 2, §4.5 strategy 3). Defined here rather than imported
// from internal/gateway so capture never depends on gateway's package.
type ARPObserver interface {
	ObserveARP(senderMAC, targetIP string)
}

type noopARPObserver struct{}

func (noopARPObserver) ObserveARP(string, string) {}
