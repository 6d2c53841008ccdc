package audio

import "fmt"

// Catalog enumerates input devices through a Host. It holds no state between calls.
type Catalog struct {
	host Host
}

func NewCatalog(host Host) *Catalog {
	return &Catalog{host: host}
}

// List returns the available input devices. Indices are positions in the returned
// slice and are only meaningful until the next call.
func (c *Catalog) List() ([]AudioDevice, error) {
	devices, err := c.host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}

	defaultName := ""
	if def, err := c.host.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name()
	}

	result := make([]AudioDevice, 0, len(devices))
	for i, d := range devices {
		result = append(result, AudioDevice{
			Index:   i,
			Name:    d.Name(),
			Default: defaultName != "" && d.Name() == defaultName,
		})
	}
	return result, nil
}

// Resolve maps a selector to a host device.
func (c *Catalog) Resolve(sel DeviceSelector) (HostDevice, error) {
	if sel == DefaultDevice {
		dev, err := c.host.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, ErrNoDevicesFound
		}
		return dev, nil
	}

	devices, err := c.host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	if sel < 0 || int(sel) >= len(devices) {
		return nil, ErrInvalidDeviceIndex
	}
	return devices[sel], nil
}
