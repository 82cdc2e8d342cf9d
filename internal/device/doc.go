// Package device defines the capability contract between the heart-rate client
// and a host Bluetooth stack.
//
// This package contains no I/O of its own. It provides:
//   - The Transport and Link interfaces implemented by the BLE GATT and classic
//     RFCOMM variants
//   - Discovery results (PeripheralHandle) and the per-connection GATT model
//     (ServiceDescriptor, CharacteristicDescriptor, Properties)
//   - Assigned-number UUID helpers
//   - The error taxonomy shared by every layer
package device
