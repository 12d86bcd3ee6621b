package hw

import "pinion/protocol"

// The 40-pin header catalogue shared by all supported boards. Built
// once at startup; read-only thereafter. Pins 27/28 (ID_SD/ID_SC) carry
// BCM numbers 0/1 but are reserved for the HAT EEPROM and offer no
// user-selectable function.

func bcm(n protocol.BCMPinNumber) *protocol.BCMPinNumber { return &n }

func fixed(board protocol.BoardPinNumber, name string) protocol.PinDescription {
	return protocol.PinDescription{
		BoardPinNumber: board,
		Name:           name,
		Options:        []protocol.PinFunction{protocol.NoFunction()},
	}
}

func gpioPin(board protocol.BoardPinNumber, bcmNum protocol.BCMPinNumber, name string) protocol.PinDescription {
	return protocol.PinDescription{
		BoardPinNumber: board,
		BCM:            bcm(bcmNum),
		Name:           name,
		Options:        []protocol.PinFunction{protocol.Input(), protocol.Output()},
	}
}

func reserved(board protocol.BoardPinNumber, bcmNum protocol.BCMPinNumber, name string) protocol.PinDescription {
	return protocol.PinDescription{
		BoardPinNumber: board,
		BCM:            bcm(bcmNum),
		Name:           name,
		Options:        []protocol.PinFunction{protocol.NoFunction()},
	}
}

// PinDescriptions returns the fixed catalogue of the 40-pin header.
func PinDescriptions() protocol.PinDescriptionSet {
	return protocol.PinDescriptionSet{Pins: []protocol.PinDescription{
		fixed(1, "3V3"),
		fixed(2, "5V"),
		gpioPin(3, 2, "GPIO2"),
		fixed(4, "5V"),
		gpioPin(5, 3, "GPIO3"),
		fixed(6, "Ground"),
		gpioPin(7, 4, "GPIO4"),
		gpioPin(8, 14, "GPIO14"),
		fixed(9, "Ground"),
		gpioPin(10, 15, "GPIO15"),
		gpioPin(11, 17, "GPIO17"),
		gpioPin(12, 18, "GPIO18"),
		gpioPin(13, 27, "GPIO27"),
		fixed(14, "Ground"),
		gpioPin(15, 22, "GPIO22"),
		gpioPin(16, 23, "GPIO23"),
		fixed(17, "3V3"),
		gpioPin(18, 24, "GPIO24"),
		gpioPin(19, 10, "GPIO10"),
		fixed(20, "Ground"),
		gpioPin(21, 9, "GPIO9"),
		gpioPin(22, 25, "GPIO25"),
		gpioPin(23, 11, "GPIO11"),
		gpioPin(24, 8, "GPIO8"),
		fixed(25, "Ground"),
		gpioPin(26, 7, "GPIO7"),
		reserved(27, 0, "ID_SD"),
		reserved(28, 1, "ID_SC"),
		gpioPin(29, 5, "GPIO5"),
		fixed(30, "Ground"),
		gpioPin(31, 6, "GPIO6"),
		gpioPin(32, 12, "GPIO12"),
		gpioPin(33, 13, "GPIO13"),
		fixed(34, "Ground"),
		gpioPin(35, 19, "GPIO19"),
		gpioPin(36, 16, "GPIO16"),
		gpioPin(37, 26, "GPIO26"),
		gpioPin(38, 20, "GPIO20"),
		fixed(39, "Ground"),
		gpioPin(40, 21, "GPIO21"),
	}}
}
