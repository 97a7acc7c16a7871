package pebble

import (
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/pebblectl/internal/protocol"
)

// Notification lead bytes.
const (
	notificationEmail uint8 = 0
	notificationSMS   uint8 = 1
)

// nowPlayingLead tags a now-playing metadata update on MUSIC_CONTROL.
const nowPlayingLead uint8 = 16

// packParts renders a lead byte followed by Pascal strings, the layout
// shared by notification and now-playing payloads. Parts longer than 255
// bytes are truncated.
func packParts(lead uint8, parts ...string) []byte {
	buf := []byte{lead}
	for _, part := range parts {
		b := []byte(part)
		if len(b) > 255 {
			b = b[:255]
		}
		buf = append(buf, byte(len(b)))
		buf = append(buf, b...)
	}
	return buf
}

func notificationTimestamp() string {
	return strconv.FormatInt(time.Now().Unix()*1000, 10)
}

// NotificationEmail displays an email notification on the watch.
func (c *Client) NotificationEmail(sender, subject, body string) error {
	payload := packParts(notificationEmail, sender, body, notificationTimestamp(), subject)
	if err := c.conn.Send(protocol.EndpointNotification, payload); err != nil {
		return fmt.Errorf("email notification: %w", err)
	}
	return nil
}

// NotificationSMS displays an SMS notification on the watch.
func (c *Client) NotificationSMS(sender, body string) error {
	payload := packParts(notificationSMS, sender, body, notificationTimestamp())
	if err := c.conn.Send(protocol.EndpointNotification, payload); err != nil {
		return fmt.Errorf("sms notification: %w", err)
	}
	return nil
}

// SetNowPlayingMetadata updates the track shown in the watch's music
// app. Fields are capped at 30 characters by the watch UI.
func (c *Client) SetNowPlayingMetadata(track, album, artist string) error {
	payload := packParts(nowPlayingLead, truncate(artist, 30), truncate(album, 30), truncate(track, 30))
	if err := c.conn.Send(protocol.EndpointMusicControl, payload); err != nil {
		return fmt.Errorf("now playing: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
