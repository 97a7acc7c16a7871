// Command pebblectl talks to a Pebble watch over serial or Bluetooth LE:
// ping, time, notifications, app management, app and firmware installs,
// and a live firmware log tail.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/danmuck/pebblectl/internal/connection"
	"github.com/danmuck/pebblectl/internal/logging"
	"github.com/danmuck/pebblectl/internal/pebble"
	"github.com/danmuck/pebblectl/internal/transport"
)

// CLI is the root command structure for pebblectl.
type CLI struct {
	Config     string        `help:"Path to a pebblectl TOML config file." type:"path"`
	PebbleID   string        `name:"pebble-id" env:"PEBBLE_ID" help:"Four-character id from the watch's serial device name."`
	Device     string        `help:"Serial device path, overriding autodetection."`
	Baud       int           `help:"Serial baud rate." default:"0"`
	BLE        bool          `name:"ble" help:"Connect over Bluetooth LE instead of serial."`
	BLEName    string        `name:"ble-name" help:"BLE advertised name to match while scanning."`
	BLEAddress string        `name:"ble-address" help:"BLE hardware address, skipping the name match."`
	Timeout    time.Duration `help:"Per-request timeout." default:"0"`

	Ping    PingCmd    `cmd:"" help:"Check the watch answers."`
	GetTime GetTimeCmd `cmd:"" name:"get-time" help:"Read the watch's clock."`
	SetTime SetTimeCmd `cmd:"" name:"set-time" help:"Set the watch's clock."`
	Email   EmailCmd   `cmd:"" help:"Show an email notification."`
	SMS     SMSCmd     `cmd:"" name:"sms" help:"Show an SMS notification."`
	Playing PlayingCmd `cmd:"" help:"Set the now-playing track metadata."`
	List    ListCmd    `cmd:"" help:"List installed apps and free banks."`
	Rm      RmCmd      `cmd:"" help:"Remove an installed app."`
	Load    LoadCmd    `cmd:"" help:"Install an app bundle (.pbw)."`
	Reload  ReloadCmd  `cmd:"" help:"Reinstall an app bundle, replacing any prior version."`
	LoadFW  LoadFWCmd  `cmd:"" name:"load-fw" help:"Install a firmware bundle (.pbz) and reboot."`
	Launch  LaunchCmd  `cmd:"" help:"Start an installed app by UUID."`
	Kill    KillCmd    `cmd:"" help:"Stop a running app by UUID."`
	AppMsg  AppMsgCmd  `cmd:"" name:"appmsg" help:"Send a key/value dictionary to a watchapp."`
	Version VersionCmd `cmd:"" help:"Show the watch's firmware and hardware versions."`
	Reset   ResetCmd   `cmd:"" help:"Reboot the watch."`
	Logcat  LogcatCmd  `cmd:"" help:"Stream firmware log records until interrupted."`
}

func main() {
	logging.ConfigureRuntime()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pebblectl"),
		kong.Description("Control a Pebble watch from the command line."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

// connect resolves settings (flags over config file over defaults), dials
// the transport, and wraps it in a client. Callers own the Close.
func connect(cli *CLI) (*pebble.Client, error) {
	settings, err := resolveSettings(cli)
	if err != nil {
		return nil, err
	}

	var tr transport.Transport
	if settings.UseBLE {
		tr, err = transport.DialBLE(transport.BLEConfig{
			Name:    settings.BLEName,
			Address: settings.BLEAddress,
		})
	} else {
		tr, err = transport.DialSerial(transport.SerialConfig{
			Device:   settings.Device,
			DeviceID: settings.PebbleID,
			BaudRate: settings.BaudRate,
		})
	}
	if err != nil {
		return nil, err
	}

	conn := connection.New(tr, connection.Config{
		DefaultRequestTimeout: settings.Timeout,
	}, logging.Component("connection"))

	client := pebble.NewClient(conn, pebble.Config{
		RequestTimeout: settings.Timeout,
	}, logging.Component("pebble"))
	return client, nil
}

// interruptContext is the lifetime of long-running commands.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type PingCmd struct {
	Cookie uint32 `help:"Cookie value the watch must echo back." default:"14598366"`
}

func (c *PingCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	if err := client.Ping(ctx, c.Cookie); err != nil {
		return err
	}
	fmt.Println("pong")
	return nil
}

type GetTimeCmd struct{}

func (c *GetTimeCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	t, err := client.GetTime(ctx)
	if err != nil {
		return err
	}
	fmt.Println(t.Format(time.RFC1123))
	return nil
}

type SetTimeCmd struct {
	Time string `arg:"" optional:"" help:"RFC3339 timestamp; defaults to the host clock."`
}

func (c *SetTimeCmd) Run(cli *CLI) error {
	at := time.Now()
	if c.Time != "" {
		parsed, err := time.Parse(time.RFC3339, c.Time)
		if err != nil {
			return fmt.Errorf("parse time: %w", err)
		}
		at = parsed
	}

	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.SetTime(at)
}

type EmailCmd struct {
	Sender  string `arg:"" help:"Displayed sender."`
	Subject string `arg:"" help:"Subject line."`
	Body    string `arg:"" help:"Message body."`
}

func (c *EmailCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.NotificationEmail(c.Sender, c.Subject, c.Body)
}

type SMSCmd struct {
	Sender string `arg:"" help:"Displayed sender."`
	Body   string `arg:"" help:"Message body."`
}

func (c *SMSCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.NotificationSMS(c.Sender, c.Body)
}

type PlayingCmd struct {
	Track  string `arg:"" help:"Track title."`
	Album  string `arg:"" optional:"" help:"Album name."`
	Artist string `arg:"" optional:"" help:"Artist name."`
}

func (c *PlayingCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.SetNowPlayingMetadata(c.Track, c.Album, c.Artist)
}

type ListCmd struct{}

func (c *ListCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	status, err := client.GetAppBankStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d app banks, %d installed\n", status.Banks, len(status.Apps))
	for _, app := range status.Apps {
		fmt.Printf("  bank %d: %s by %s (id %d, v%d.%d)\n",
			app.Index, app.Name, app.Company, app.ID,
			app.Version>>8, app.Version&0xFF)
	}
	return nil
}

type RmCmd struct {
	Bank uint32 `arg:"" help:"Bank index of the app to remove, as shown by list."`
}

func (c *RmCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	status, err := client.GetAppBankStatus(ctx)
	if err != nil {
		return err
	}
	for _, app := range status.Apps {
		if app.Index == c.Bank {
			if err := client.RemoveApp(ctx, app.ID, app.Index); err != nil {
				return err
			}
			fmt.Printf("removed %s from bank %d\n", app.Name, app.Index)
			return nil
		}
	}
	return fmt.Errorf("no app in bank %d", c.Bank)
}

type LoadCmd struct {
	Bundle string `arg:"" type:"existingfile" help:"Path to the .pbw bundle."`
	Launch bool   `help:"Start the app once installed."`
}

func (c *LoadCmd) Run(cli *CLI) error {
	bundle, err := pebble.OpenBundle(c.Bundle)
	if err != nil {
		return err
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.InstallApp(ctx, bundle, c.Launch)
}

type ReloadCmd struct {
	Bundle string `arg:"" type:"existingfile" help:"Path to the .pbw bundle."`
	Launch bool   `help:"Start the app once installed."`
}

func (c *ReloadCmd) Run(cli *CLI) error {
	bundle, err := pebble.OpenBundle(c.Bundle)
	if err != nil {
		return err
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.ReinstallApp(ctx, bundle, c.Launch)
}

type LoadFWCmd struct {
	Bundle   string `arg:"" type:"existingfile" help:"Path to the .pbz firmware bundle."`
	Recovery bool   `help:"Install as the recovery image."`
}

func (c *LoadFWCmd) Run(cli *CLI) error {
	bundle, err := pebble.OpenBundle(c.Bundle)
	if err != nil {
		return err
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.InstallFirmware(ctx, bundle, c.Recovery)
}

type LaunchCmd struct {
	UUID string `arg:"" help:"UUID of the installed app."`
}

func (c *LaunchCmd) Run(cli *CLI) error {
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return fmt.Errorf("parse uuid: %w", err)
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.LaunchApp(ctx, id)
}

type KillCmd struct {
	UUID string `arg:"" help:"UUID of the running app."`
}

func (c *KillCmd) Run(cli *CLI) error {
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return fmt.Errorf("parse uuid: %w", err)
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.KillApp(ctx, id)
}

type AppMsgCmd struct {
	UUID   string   `arg:"" help:"UUID of the target watchapp."`
	Tuples []string `arg:"" help:"Values as key:type:value, e.g. 1:uint:42 2:string:hi 3:int:-7."`
}

func (c *AppMsgCmd) Run(cli *CLI) error {
	id, err := uuid.Parse(c.UUID)
	if err != nil {
		return fmt.Errorf("parse uuid: %w", err)
	}
	tuples, err := parseTuples(c.Tuples)
	if err != nil {
		return err
	}
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()
	return client.SendAppMessage(ctx, id, tuples)
}

type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	info, err := client.GetVersions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("firmware:   %s (%s, %s)\n", info.Normal.Version, info.Normal.Commit, info.Normal.Timestamp.Format(time.DateOnly))
	fmt.Printf("recovery:   %s (%s)\n", info.Recovery.Version, info.Recovery.Timestamp.Format(time.DateOnly))
	fmt.Printf("bootloader: %s\n", info.BootloaderTimestamp.Format(time.DateOnly))
	fmt.Printf("hardware:   %s\n", info.HardwareVersion)
	fmt.Printf("serial:     %s\n", info.Serial)
	fmt.Printf("bt mac:     %s\n", info.BTMAC)
	return nil
}

type ResetCmd struct{}

func (c *ResetCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Reset()
}

type LogcatCmd struct{}

func (c *LogcatCmd) Run(cli *CLI) error {
	client, err := connect(cli)
	if err != nil {
		return err
	}
	defer client.Close()
	ctx, cancel := interruptContext()
	defer cancel()

	cancelSub := client.OnLog(func(rec pebble.LogRecord) {
		fmt.Printf("%s %s %s:%d %s\n",
			rec.Timestamp.Format(time.TimeOnly), pebble.LevelTag(rec.Level),
			rec.Filename, rec.Line, rec.Message)
	})
	defer cancelSub()

	select {
	case <-ctx.Done():
		return nil
	case <-client.Done():
		return client.Err()
	}
}
