package nameservers

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// explore with: gdbus introspect --system --dest org.freedesktop.NetworkManager --object-path /org/freedesktop/NetworkManager
const (
	networkManagerDest = "org.freedesktop.NetworkManager"
	networkManagerPath = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	propertiesGet      = "org.freedesktop.DBus.Properties.Get"
)

// propertyReader reads a fully qualified NetworkManager property, like "org.freedesktop.NetworkManager.PrimaryConnection"
type propertyReader func(ctx context.Context, path dbus.ObjectPath, property string) (dbus.Variant, error)

func readNetworkManager(ctx context.Context) ([]Nameserver, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to system bus")
	}
	defer conn.Close()
	return networkManagerNameservers(ctx, busPropertyReader(conn))
}

func busPropertyReader(conn *dbus.Conn) propertyReader {
	return func(ctx context.Context, path dbus.ObjectPath, property string) (dbus.Variant, error) {
		lastDot := strings.LastIndex(property, ".")
		iface, name := property[:lastDot], property[lastDot+1:]
		var value dbus.Variant
		err := conn.Object(networkManagerDest, path).
			CallWithContext(ctx, propertiesGet, 0, iface, name).
			Store(&value)
		return value, err
	}
}

// networkManagerNameservers lists the primary connection's nameservers first, then those of other active connections
func networkManagerNameservers(ctx context.Context, getProperty propertyReader) ([]Nameserver, error) {
	var primary dbus.ObjectPath
	if err := readProperty(ctx, getProperty, networkManagerPath, "org.freedesktop.NetworkManager.PrimaryConnection", &primary); err != nil {
		return nil, err
	}
	var active []dbus.ObjectPath
	if err := readProperty(ctx, getProperty, networkManagerPath, "org.freedesktop.NetworkManager.ActiveConnections", &active); err != nil {
		return nil, err
	}

	connections := []dbus.ObjectPath{primary}
	for _, connection := range active {
		if connection != primary {
			connections = append(connections, connection)
		}
	}

	var nameservers []Nameserver
	for _, connection := range connections {
		if !isActivePath(connection) {
			continue
		}
		for _, ipVersion := range []int{4, 6} {
			found, err := connectionNameservers(ctx, getProperty, connection, ipVersion)
			if err != nil {
				return nil, err
			}
			nameservers = merge(nameservers, found)
		}
	}
	return nameservers, nil
}

func connectionNameservers(ctx context.Context, getProperty propertyReader, connection dbus.ObjectPath, ipVersion int) ([]Nameserver, error) {
	var ipConfig dbus.ObjectPath
	ipConfigProperty := fmt.Sprintf("org.freedesktop.NetworkManager.Connection.Active.Ip%dConfig", ipVersion)
	if err := readProperty(ctx, getProperty, connection, ipConfigProperty, &ipConfig); err != nil {
		return nil, err
	}
	if !isActivePath(ipConfig) {
		// connection is not configured for this IP version
		return nil, nil
	}

	configInterface := fmt.Sprintf("org.freedesktop.NetworkManager.IP%dConfig", ipVersion)
	var ips []net.IP
	switch ipVersion {
	case 4:
		var addresses []uint32
		if err := readProperty(ctx, getProperty, ipConfig, configInterface+".Nameservers", &addresses); err != nil {
			return nil, err
		}
		for _, address := range addresses {
			ip := make(net.IP, net.IPv4len)
			binary.LittleEndian.PutUint32(ip, address)
			ips = append(ips, ip)
		}
	case 6:
		var addresses [][]byte
		if err := readProperty(ctx, getProperty, ipConfig, configInterface+".Nameservers", &addresses); err != nil {
			return nil, err
		}
		for _, address := range addresses {
			if len(address) != net.IPv6len {
				return nil, errors.Errorf("invalid IPv6 nameserver length %d on %s", len(address), ipConfig)
			}
			ips = append(ips, net.IP(address))
		}
	}

	var domains, searches []string
	if err := readProperty(ctx, getProperty, ipConfig, configInterface+".Domains", &domains); err != nil {
		return nil, err
	}
	if err := readProperty(ctx, getProperty, ipConfig, configInterface+".Searches", &searches); err != nil {
		return nil, err
	}
	search := unionStrings(domains, searches)

	nameservers := make([]Nameserver, 0, len(ips))
	for _, ip := range ips {
		nameservers = append(nameservers, Nameserver{
			IP:     ip,
			Port:   DefaultPort,
			Search: search,
			Source: NetworkManager,
		})
	}
	return nameservers, nil
}

func readProperty(ctx context.Context, getProperty propertyReader, path dbus.ObjectPath, property string, value interface{}) error {
	variant, err := getProperty(ctx, path, property)
	if err != nil {
		return errors.Wrapf(err, "read %s:%s", path, property)
	}
	return errors.Wrapf(dbus.Store([]interface{}{variant.Value()}, value), "unexpected type for %s:%s", path, property)
}

// isActivePath returns false for NetworkManager's empty "/" object
func isActivePath(path dbus.ObjectPath) bool {
	return path.IsValid() && path != "/"
}
