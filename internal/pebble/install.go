package pebble

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/pebblectl/internal/protocol"
	"github.com/danmuck/pebblectl/internal/putbytes"
)

// InstallApp uploads an app bundle into the first free bank, registers
// it, and optionally launches it. The operation either completes or
// fails; there is no "maybe installed" outcome.
func (c *Client) InstallApp(ctx context.Context, bundle *Bundle, launch bool) error {
	if !bundle.IsAppBundle() {
		return ErrNotAppBundle
	}
	md, err := bundle.AppMetadata()
	if err != nil {
		return err
	}
	appBinary, err := bundle.AppBinary()
	if err != nil {
		return err
	}
	resources, err := bundle.Resources()
	if err != nil {
		return err
	}

	status, err := c.GetAppBankStatus(ctx)
	if err != nil {
		return fmt.Errorf("install %q: %w", md.Name, err)
	}
	bank, ok := status.FirstFreeBank()
	if !ok {
		return fmt.Errorf("install %q: all %d app banks are full", md.Name, status.Banks)
	}
	c.log.Info().Str("app", md.Name).Uint32("bank", bank).Uint32("banks", status.Banks).Msg("installing app")

	if err := c.engine.Transfer(ctx, putbytes.ObjectBinary, uint8(bank), appBinary); err != nil {
		return fmt.Errorf("install %q binary: %w", md.Name, err)
	}
	if resources != nil {
		if err := c.engine.Transfer(ctx, putbytes.ObjectResources, uint8(bank), resources); err != nil {
			return fmt.Errorf("install %q resources: %w", md.Name, err)
		}
	}
	if err := c.AddApp(bank); err != nil {
		return fmt.Errorf("install %q: %w", md.Name, err)
	}

	if launch {
		if err := c.LaunchApp(ctx, md.UUID); err != nil {
			return fmt.Errorf("launch %q: %w", md.Name, err)
		}
	}
	return nil
}

// ReinstallApp removes any prior installation of the bundle's app and
// installs it fresh. A missing prior installation is not an error: the
// UUID delete is tried first, then a delete by name from the bank
// listing; only failures other than not-found propagate.
func (c *Client) ReinstallApp(ctx context.Context, bundle *Bundle, launch bool) error {
	if !bundle.IsAppBundle() {
		return ErrNotAppBundle
	}
	md, err := bundle.AppMetadata()
	if err != nil {
		return err
	}

	err = c.RemoveAppByUUID(ctx, md.UUID)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrNotFound):
		if err := c.removeByName(ctx, md.Name); err != nil {
			return err
		}
	default:
		return err
	}

	return c.InstallApp(ctx, bundle, launch)
}

func (c *Client) removeByName(ctx context.Context, name string) error {
	status, err := c.GetAppBankStatus(ctx)
	if err != nil {
		return err
	}
	for _, app := range status.Apps {
		if app.Name != name {
			continue
		}
		err := c.RemoveApp(ctx, app.ID, app.Index)
		if err != nil && !errors.Is(err, protocol.ErrNotFound) {
			return err
		}
		return nil
	}
	c.log.Debug().Str("app", name).Msg("no previous installation found")
	return nil
}

// InstallFirmware uploads a firmware bundle and reboots the watch into
// it. Recovery installs skip the system resource pack.
func (c *Client) InstallFirmware(ctx context.Context, bundle *Bundle, recovery bool) error {
	image, err := bundle.Firmware()
	if err != nil {
		return err
	}

	if err := c.SystemMessage(SystemFirmwareStart); err != nil {
		return err
	}

	if !recovery {
		if resources := bundle.SystemResources(); resources != nil {
			if err := c.engine.Transfer(ctx, putbytes.ObjectSysResources, 0, resources); err != nil {
				c.failFirmware()
				return fmt.Errorf("firmware resources: %w", err)
			}
		}
	}

	objectType := putbytes.ObjectFirmware
	if recovery {
		objectType = putbytes.ObjectRecovery
	}
	if err := c.engine.Transfer(ctx, objectType, 0, image); err != nil {
		c.failFirmware()
		return fmt.Errorf("firmware image: %w", err)
	}

	if err := c.SystemMessage(SystemFirmwareComplete); err != nil {
		return err
	}
	return c.Reset()
}

func (c *Client) failFirmware() {
	if err := c.SystemMessage(SystemFirmwareFail); err != nil {
		c.log.Warn().Err(err).Msg("firmware-fail message not delivered")
	}
}
