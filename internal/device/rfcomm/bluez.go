package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrmon/internal/device"
)

const (
	bluezBus          = "org.bluez"
	bluezAdapter1     = "org.bluez.Adapter1"
	bluezDevice1      = "org.bluez.Device1"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"
	dbusProperties    = "org.freedesktop.DBus.Properties"
)

// Backend is the host discovery service used by the classic transport.
type Backend interface {
	// Powered reports whether the adapter exists and is switched on.
	Powered() (bool, error)
	// Discover runs an inquiry and reports devices until ctx is done.
	Discover(ctx context.Context, found func(device.Advertisement)) error
}

// classicAdvertisement is a device seen during classic inquiry.
type classicAdvertisement struct {
	name    string
	address string
	rssi    int
}

func (a classicAdvertisement) LocalName() string        { return a.name }
func (a classicAdvertisement) Addr() string             { return a.address }
func (a classicAdvertisement) RSSI() int                { return a.rssi }
func (a classicAdvertisement) Connectable() bool        { return true }
func (a classicAdvertisement) ManufacturerData() []byte { return nil }

// advertisementFromProps builds an advertisement from org.bluez.Device1 properties.
// It reports false when the address is missing.
func advertisementFromProps(props map[string]dbus.Variant) (classicAdvertisement, bool) {
	var adv classicAdvertisement

	addr, ok := variantValue[string](props, "Address")
	if !ok || addr == "" {
		return adv, false
	}
	adv.address = addr

	if name, ok := variantValue[string](props, "Name"); ok {
		adv.name = name
	} else if alias, ok := variantValue[string](props, "Alias"); ok && alias != strings.ReplaceAll(addr, ":", "-") {
		adv.name = alias
	}
	if rssi, ok := variantValue[int16](props, "RSSI"); ok {
		adv.rssi = int(rssi)
	}
	return adv, true
}

func variantValue[T any](props map[string]dbus.Variant, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	val, ok := v.Value().(T)
	return val, ok
}

// mapBluezError maps BlueZ D-Bus error names onto the device sentinels.
func mapBluezError(err error) error {
	if err == nil {
		return nil
	}

	name := ""
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		name = dbusErr.Name
	}

	switch {
	case name == "org.bluez.Error.NotReady":
		return fmt.Errorf("%w: %v", device.ErrRadioDisabled, err)
	case name == "org.bluez.Error.NotAuthorized",
		name == "org.freedesktop.DBus.Error.AccessDenied",
		device.ContainsIgnoreCase(err.Error(), "access denied"):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case name == "org.freedesktop.DBus.Error.UnknownObject",
		name == "org.freedesktop.DBus.Error.ServiceUnknown":
		return fmt.Errorf("%w: %v", device.ErrUnsupportedTransport, err)
	default:
		return err
	}
}

// bluezBackend drives classic inquiry through BlueZ over the system bus.
type bluezBackend struct {
	conn        *dbus.Conn
	adapter     string
	adapterPath dbus.ObjectPath
	logger      *logrus.Logger
}

// newBluezBackend connects to the system bus. The connection is the shared cached
// one from dbus.SystemBus and is never closed here.
func newBluezBackend(adapter string, logger *logrus.Logger) (Backend, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, mapBluezError(fmt.Errorf("failed to connect to system bus: %w", err))
	}
	return &bluezBackend{
		conn:        conn,
		adapter:     adapter,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
		logger:      logger,
	}, nil
}

func (b *bluezBackend) Powered() (bool, error) {
	v, err := b.conn.Object(bluezBus, b.adapterPath).GetProperty(bluezAdapter1 + ".Powered")
	if err != nil {
		return false, mapBluezError(err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property %s.Powered has unexpected type %T", bluezAdapter1, v.Value())
	}
	return powered, nil
}

// Discover cancels any inquiry already in progress, restricts discovery to
// BR/EDR and reports devices as BlueZ adds or updates them.
func (b *bluezBackend) Discover(ctx context.Context, found func(device.Advertisement)) error {
	adapterObj := b.conn.Object(bluezBus, b.adapterPath)

	if call := adapterObj.Call(bluezAdapter1+".StopDiscovery", 0); call.Err == nil {
		b.logger.Debug("Cancelled in-progress classic discovery")
	}

	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("bredr"),
	}
	if call := adapterObj.Call(bluezAdapter1+".SetDiscoveryFilter", 0, filter); call.Err != nil {
		return fmt.Errorf("failed to set discovery filter: %w", mapBluezError(call.Err))
	}

	sigCh := make(chan *dbus.Signal, 64)
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(dbusObjectManager), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(dbusProperties), dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(b.adapterPath)},
	}
	for _, m := range matches {
		if err := b.conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("failed to add match rule: %w", err)
		}
	}
	b.conn.Signal(sigCh)
	defer func() {
		b.conn.RemoveSignal(sigCh)
		for _, m := range matches {
			_ = b.conn.RemoveMatchSignal(m...)
		}
	}()

	if call := adapterObj.Call(bluezAdapter1+".StartDiscovery", 0); call.Err != nil {
		return fmt.Errorf("failed to start discovery: %w", mapBluezError(call.Err))
	}
	defer adapterObj.Call(bluezAdapter1+".StopDiscovery", 0)

	b.logger.WithField("adapter", b.adapter).Info("Classic discovery started")

	known := make(map[dbus.ObjectPath]map[string]dbus.Variant)
	b.reportCached(known, found)

	for {
		select {
		case <-ctx.Done():
			b.logger.WithField("adapter", b.adapter).Info("Classic discovery stopped")
			return nil
		case sig, ok := <-sigCh:
			if !ok {
				return nil
			}
			b.handleSignal(sig, known, found)
		}
	}
}

// reportCached reports devices BlueZ already saw during this inquiry (those
// carrying an RSSI).
func (b *bluezBackend) reportCached(known map[dbus.ObjectPath]map[string]dbus.Variant, found func(device.Advertisement)) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := b.conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return
	}
	if err := call.Store(&objects); err != nil {
		return
	}

	prefix := string(b.adapterPath) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDevice1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		known[path] = props
		if _, seen := props["RSSI"]; !seen {
			continue
		}
		if adv, ok := advertisementFromProps(props); ok {
			found(adv)
		}
	}
}

func (b *bluezBackend) handleSignal(sig *dbus.Signal, known map[dbus.ObjectPath]map[string]dbus.Variant, found func(device.Advertisement)) {
	switch sig.Name {
	case dbusObjectManager + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return
		}
		props, ok := ifaces[bluezDevice1]
		if !ok {
			return
		}
		known[path] = props
		if adv, ok := advertisementFromProps(props); ok {
			found(adv)
		}

	case dbusProperties + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return
		}
		if iface, ok := sig.Body[0].(string); !ok || iface != bluezDevice1 {
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		props := known[sig.Path]
		if props == nil {
			props = make(map[string]dbus.Variant)
			known[sig.Path] = props
		}
		for k, v := range changed {
			props[k] = v
		}
		if _, rssi := changed["RSSI"]; !rssi {
			if _, name := changed["Name"]; !name {
				return
			}
		}
		if adv, ok := advertisementFromProps(props); ok {
			found(adv)
		}
	}
}
