package pebble

import (
	"archive/zip"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Bundle is a .pbw/.pbz archive: a manifest plus the binaries it names.
type Bundle struct {
	manifest manifest
	files    map[string][]byte
}

type manifest struct {
	Application *manifestFile     `json:"application"`
	Resources   *manifestFile     `json:"resources"`
	Firmware    *firmwareManifest `json:"firmware"`
}

type manifestFile struct {
	Name string `json:"name"`
	CRC  uint32 `json:"crc"`
	Size int    `json:"size"`
}

type firmwareManifest struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CRC  uint32 `json:"crc"`
	Size int    `json:"size"`
}

const (
	manifestFilename  = "manifest.json"
	appBinaryFilename = "pebble-app.bin"
	firmwareFilename  = "tintin_fw.bin"
	sysResourcesName  = "system_resources.pbpack"
)

var (
	ErrNotAppBundle      = errors.New("bundle: not an app bundle")
	ErrNotFirmwareBundle = errors.New("bundle: not a firmware bundle")
)

// AppMetadata is the header baked into the first bytes of an app binary.
// Integers are little-endian, matching the watch's ARM build.
type AppMetadata struct {
	Sentinel        string
	StructVersion   [2]uint8
	SDKVersion      [2]uint8
	AppVersion      [2]uint8
	Size            uint16
	Offset          uint32
	CRC             uint32
	Name            string
	Company         string
	IconResourceID  uint32
	SymbolTableAddr uint32
	Flags           uint32
	RelocListStart  uint32
	NumRelocEntries uint32
	UUID            uuid.UUID
}

const appMetadataLen = 124

// OpenBundle reads a bundle archive from disk.
func OpenBundle(path string) (*Bundle, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: open %s: %w", path, err)
	}
	defer zr.Close()
	return readBundle(&zr.Reader)
}

// NewBundle reads a bundle archive from an in-memory or seekable source.
func NewBundle(readerAt io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(readerAt, size)
	if err != nil {
		return nil, fmt.Errorf("bundle: read archive: %w", err)
	}
	return readBundle(zr)
}

func readBundle(zr *zip.Reader) (*Bundle, error) {
	b := &Bundle{files: make(map[string][]byte)}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("bundle: open %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("bundle: read %s: %w", f.Name, err)
		}
		b.files[f.Name] = data
	}

	raw, ok := b.files[manifestFilename]
	if !ok {
		return nil, fmt.Errorf("bundle: no %s; not a pebble bundle", manifestFilename)
	}
	if err := json.Unmarshal(raw, &b.manifest); err != nil {
		return nil, fmt.Errorf("bundle: parse manifest: %w", err)
	}
	return b, nil
}

func (b *Bundle) IsAppBundle() bool      { return b.manifest.Application != nil }
func (b *Bundle) IsFirmwareBundle() bool { return b.manifest.Firmware != nil }
func (b *Bundle) HasResources() bool     { return b.manifest.Resources != nil }

// AppBinary returns the application binary named by the manifest.
func (b *Bundle) AppBinary() ([]byte, error) {
	if !b.IsAppBundle() {
		return nil, ErrNotAppBundle
	}
	data, ok := b.files[b.manifest.Application.Name]
	if !ok {
		return nil, fmt.Errorf("bundle: missing %s", b.manifest.Application.Name)
	}
	return data, nil
}

// Resources returns the resource pack, or nil when the bundle has none.
func (b *Bundle) Resources() ([]byte, error) {
	if !b.HasResources() {
		return nil, nil
	}
	data, ok := b.files[b.manifest.Resources.Name]
	if !ok {
		return nil, fmt.Errorf("bundle: missing %s", b.manifest.Resources.Name)
	}
	return data, nil
}

// Firmware returns the firmware image named by the manifest.
func (b *Bundle) Firmware() ([]byte, error) {
	if !b.IsFirmwareBundle() {
		return nil, ErrNotFirmwareBundle
	}
	data, ok := b.files[b.manifest.Firmware.Name]
	if !ok {
		return nil, fmt.Errorf("bundle: missing %s", b.manifest.Firmware.Name)
	}
	return data, nil
}

// SystemResources returns the system resource pack accompanying a
// firmware image, or nil when absent (recovery images carry none).
func (b *Bundle) SystemResources() []byte {
	return b.files[sysResourcesName]
}

// AppMetadata parses the header of the bundle's application binary.
func (b *Bundle) AppMetadata() (AppMetadata, error) {
	binData, err := b.AppBinary()
	if err != nil {
		return AppMetadata{}, err
	}
	return DecodeAppMetadata(binData)
}

// DecodeAppMetadata parses the metadata header of an app binary.
func DecodeAppMetadata(binData []byte) (AppMetadata, error) {
	if len(binData) < appMetadataLen {
		return AppMetadata{}, fmt.Errorf("bundle: app binary too short for metadata header: %d bytes", len(binData))
	}
	h := binData[:appMetadataLen]
	md := AppMetadata{
		Sentinel:        cstr(h[0:8]),
		StructVersion:   [2]uint8{h[8], h[9]},
		SDKVersion:      [2]uint8{h[10], h[11]},
		AppVersion:      [2]uint8{h[12], h[13]},
		Size:            binary.LittleEndian.Uint16(h[14:16]),
		Offset:          binary.LittleEndian.Uint32(h[16:20]),
		CRC:             binary.LittleEndian.Uint32(h[20:24]),
		Name:            cstr(h[24:56]),
		Company:         cstr(h[56:88]),
		IconResourceID:  binary.LittleEndian.Uint32(h[88:92]),
		SymbolTableAddr: binary.LittleEndian.Uint32(h[92:96]),
		Flags:           binary.LittleEndian.Uint32(h[96:100]),
		RelocListStart:  binary.LittleEndian.Uint32(h[100:104]),
		NumRelocEntries: binary.LittleEndian.Uint32(h[104:108]),
	}
	copy(md.UUID[:], h[108:124])
	return md, nil
}
