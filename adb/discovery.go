package adb

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/grandcat/zeroconf"
)

// Device is one adb-over-WiFi device found on the local network.
type Device struct {
	Instance string
	IP       string
	Port     int
}

// Addr returns the value to pass to adb connect / -s.
func (d Device) Addr() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// Discover browses mDNS for adb-over-WiFi devices. Android advertises
// _adb._tcp once wireless debugging is enabled.
func Discover(timeout time.Duration) []Device {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Printf("[adb] mdns resolver init failed: %v", err)
		return nil
	}

	entries := make(chan *zeroconf.ServiceEntry)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := resolver.Browse(ctx, "_adb._tcp", "local.", entries); err != nil {
		log.Printf("[adb] mdns browse failed: %v", err)
		return nil
	}

	var devices []Device
	for entry := range entries {
		ip := ""
		if len(entry.AddrIPv4) > 0 {
			ip = entry.AddrIPv4[0].String()
		} else if len(entry.AddrIPv6) > 0 {
			ip = entry.AddrIPv6[0].String()
		}
		devices = append(devices, Device{
			Instance: entry.Instance,
			IP:       ip,
			Port:     entry.Port,
		})
	}
	return devices
}
