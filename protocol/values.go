package protocol

// Interop constants shared by both ends of every transport. The USB
// request/value pairs are part of the device's external contract and
// must be preserved bit-for-bit across releases.

// Version of the pinion protocol suite, reported in HardwareDetails.
const Version = "0.1.0"

// USB identity of a pinion device.
const (
	USBVendorID  = 0xbabe
	USBProductID = 0xface
)

// USBPacketSize is the interrupt endpoint packet size.
const USBPacketSize = 64

// USBVendorRequest is the bRequest of every vendor control transfer.
// The wValue selects the operation; requests are recognized only when
// the addressed interface number matches the vendor interface.
const USBVendorRequest = 0x50

// wValue codes for USBVendorRequest.
const (
	USBValueGetDescription   = 1 // control-IN: HardwareDescription
	USBValueGetDetails       = 2 // control-IN: HardwareDetails
	USBValueGetWiFiDetails   = 3 // control-IN: WiFiDetails
	USBValueGetConfig        = 4 // control-IN: HardwareConfig
	USBValueGetConfigMessage = 5 // control-IN: one queued Message
	USBValueSetSsid          = 6 // control-OUT: SsidSpec
	USBValueResetSsid        = 7 // control-OUT: no payload
	USBValueConfigMessage    = 8 // control-OUT: Message
)

// MDNSServiceType is the service type devices register and controllers
// browse for.
const MDNSServiceType = "_pinion._tcp"

// TXT record keys of the mDNS service.
const (
	TXTSerial     = "Serial"
	TXTModel      = "Model"
	TXTAppName    = "AppName"
	TXTAppVersion = "AppVersion"
	TXTNodeID     = "NodeID"
	TXTRelayURL   = "RelayURL"
)

// ALPN restricts P2P connections to peers intending to speak this
// protocol.
const ALPN = "pinion/0"
