// Package nvimage persists the memory of a simulated flash device, so
// that a device survives between runs of a program the way a real one
// survives a power cycle.
package nvimage

import (
	"bytes"
	"io"
	"os"

	"ch32flash.dev/driver/flash"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

const version = 1

var (
	ErrBusy    = errors.New("nvimage: image is in use")
	ErrDigest  = errors.New("nvimage: image digest mismatch")
	ErrVersion = errors.New("nvimage: unsupported image version")
	ErrRegion  = errors.New("nvimage: image was saved for another flash region")
)

type record struct {
	_       struct{} `cbor:",toarray"`
	Version int
	Region  region
	Main    []byte
	Options []byte
	Erases  []uint32
	Digest  []byte
}

type region struct {
	_              struct{} `cbor:",toarray"`
	Base           uint32
	Capacity       uint32
	PageSize       uint32
	ReservedOffset uint32
}

// File is an open image. It holds an exclusive lock on the image file
// until closed, making it the only owner of the simulated device.
type File struct {
	f *os.File
}

// Open opens or creates the image at path.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "nvimage")
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, errors.Wrap(err, path)
	}
	return &File{f: f}, nil
}

func (f *File) Name() string {
	return f.f.Name()
}

// Load returns the device stored in the image, freshly powered on. An
// empty image yields a factory new device.
func (f *File) Load(r flash.Region) (*flash.Simulator, error) {
	sim := flash.NewSimulator(r)
	if _, err := f.f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "nvimage")
	}
	data, err := io.ReadAll(f.f)
	if err != nil {
		return nil, errors.Wrap(err, "nvimage")
	}
	if len(data) == 0 {
		logrus.Debugf("nvimage: %s is empty, starting from a new device", f.Name())
		return sim, nil
	}
	rec := new(record)
	mode, err := cbor.DecOptions{
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, errors.Wrap(err, "nvimage: failed to initialize decoder")
	}
	if err := mode.Unmarshal(data, rec); err != nil {
		return nil, errors.Wrap(err, "nvimage: failed to decode image")
	}
	if rec.Version != version {
		return nil, ErrVersion
	}
	if rec.Region != toRegion(r) {
		return nil, ErrRegion
	}
	if !bytes.Equal(rec.Digest, digest(rec.Main, rec.Options)) {
		return nil, ErrDigest
	}
	img := flash.Image{
		Main:    rec.Main,
		Options: rec.Options,
		Erases:  rec.Erases,
	}
	if err := sim.Restore(img); err != nil {
		return nil, errors.Wrap(err, "nvimage")
	}
	logrus.Debugf("nvimage: loaded %s", f.Name())
	return sim, nil
}

// Save replaces the image content with the memory of sim.
func (f *File) Save(sim *flash.Simulator) error {
	img := sim.Snapshot()
	rec := &record{
		Version: version,
		Region:  toRegion(sim.Region()),
		Main:    img.Main,
		Options: img.Options,
		Erases:  img.Erases,
		Digest:  digest(img.Main, img.Options),
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return errors.Wrap(err, "nvimage: failed to initialize encoder")
	}
	b, err := enc.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "nvimage: failed to encode image")
	}
	if err := f.f.Truncate(0); err != nil {
		return errors.Wrap(err, "nvimage")
	}
	if _, err := f.f.WriteAt(b, 0); err != nil {
		return errors.Wrap(err, "nvimage")
	}
	if err := f.f.Sync(); err != nil {
		return errors.Wrap(err, "nvimage")
	}
	logrus.Debugf("nvimage: saved %s (%d bytes)", f.Name(), len(b))
	return nil
}

// Close releases the image.
func (f *File) Close() error {
	uerr := unlockFile(f.f)
	if err := f.f.Close(); err != nil {
		return errors.Wrap(err, "nvimage")
	}
	return uerr
}

func toRegion(r flash.Region) region {
	return region{
		Base:           r.Base,
		Capacity:       r.Capacity,
		PageSize:       r.PageSize,
		ReservedOffset: r.ReservedOffset,
	}
}

func digest(main, options []byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Unkeyed hashes can't fail.
		panic(err)
	}
	h.Write(main)
	h.Write(options)
	return h.Sum(nil)
}
