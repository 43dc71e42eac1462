//go:build linux

// Package shm provides a shared-memory backing region for streaming card
// content across processes.
//
// The owner process creates a named region sized for the card buffer; peer
// processes open it and read or write the same physical pages. A small
// header at the start of the region carries a generation counter: Grow
// bumps it, and peers poll Stale and call Remap to follow. Growth itself
// is announced out of band; the header only lets a peer verify it has
// caught up.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/gogpu/cardkit"
)

var (
	// ErrNotOwner is returned when a peer calls an owner-only operation.
	ErrNotOwner = errors.New("shm: region not owned by this process")

	// ErrBadMagic is returned when an opened region does not carry the
	// expected header.
	ErrBadMagic = errors.New("shm: bad region magic")

	// ErrShrink is returned when Grow is called with a size at or below
	// the current one.
	ErrShrink = errors.New("shm: region can only grow")

	// ErrClosed is returned when operating on a closed region.
	ErrClosed = errors.New("shm: region closed")
)

const (
	regionMagic = 0x43524431 // "CRD1"

	// HeaderSize is the reserved prefix before card data. Kept at 64 so
	// Data starts cache-line aligned.
	HeaderSize = 64

	offMagic      = 0
	offGeneration = 4
	offSize       = 8

	shmDir = "/dev/shm/"
)

// Region is a mmap-backed shared memory segment with a growth protocol.
// It is confined to one goroutine per process; cross-process coordination
// happens through the header generation.
type Region struct {
	name      string
	fd        int
	mapping   []byte
	owner     bool
	mappedGen uint32
	log       *slog.Logger
}

// Create makes a new named region with dataSize bytes of card data
// (server side). An existing region with the same name is replaced.
func Create(name string, dataSize int) (*Region, error) {
	if dataSize <= 0 {
		return nil, fmt.Errorf("shm: data size %d", dataSize)
	}
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o600)
	if errors.Is(err, unix.EEXIST) {
		_ = unix.Unlink(path)
		fd, err = unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o600)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}

	total := HeaderSize + dataSize
	if err := unix.Ftruncate(fd, int64(total)); err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("shm: ftruncate %s to %d: %w", path, total, err)
	}
	mapping, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Region{name: name, fd: fd, mapping: mapping, owner: true, log: cardkit.Logger()}
	binary.LittleEndian.PutUint32(mapping[offMagic:], regionMagic)
	binary.LittleEndian.PutUint32(mapping[offGeneration:], 1)
	binary.LittleEndian.PutUint64(mapping[offSize:], uint64(dataSize))
	r.mappedGen = 1
	r.log.Info("shm region created", "name", name, "size", dataSize, "pid", os.Getpid())
	return r, nil
}

// Open attaches to an existing region (client side).
func Open(name string) (*Region, error) {
	path := shmDir + name
	fd, err := unix.Open(path, unix.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	var sb unix.Stat_t
	if err := unix.Fstat(fd, &sb); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: fstat %s: %w", path, err)
	}
	if sb.Size < HeaderSize {
		_ = unix.Close(fd)
		return nil, ErrBadMagic
	}
	mapping, err := unix.Mmap(fd, 0, int(sb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	if binary.LittleEndian.Uint32(mapping[offMagic:]) != regionMagic {
		_ = unix.Munmap(mapping)
		_ = unix.Close(fd)
		return nil, ErrBadMagic
	}

	r := &Region{name: name, fd: fd, mapping: mapping, owner: false, log: cardkit.Logger()}
	r.mappedGen = binary.LittleEndian.Uint32(mapping[offGeneration:])
	return r, nil
}

// Name returns the region name.
func (r *Region) Name() string { return r.name }

// Owner reports whether this process created the region.
func (r *Region) Owner() bool { return r.owner }

// Data returns the card data portion of the mapping. The slice is
// invalidated by Grow and Remap.
func (r *Region) Data() []byte {
	if r.mapping == nil {
		return nil
	}
	return r.mapping[HeaderSize:]
}

// Size returns the card data size in bytes.
func (r *Region) Size() int {
	if r.mapping == nil {
		return 0
	}
	return int(binary.LittleEndian.Uint64(r.mapping[offSize:]))
}

// Generation returns the header generation counter.
func (r *Region) Generation() uint32 {
	if r.mapping == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.mapping[offGeneration:])
}

// Stale reports whether the owner grew the region since this process
// last mapped it. The header page stays shared across growth, so a peer
// sees the new generation through its old mapping.
func (r *Region) Stale() bool {
	return r.Generation() != r.mappedGen
}

// Grow extends the region to newDataSize bytes of card data and bumps
// the generation. Owner only. The old Data slice is invalid afterwards.
func (r *Region) Grow(newDataSize int) error {
	if r.mapping == nil {
		return ErrClosed
	}
	if !r.owner {
		return ErrNotOwner
	}
	if newDataSize <= r.Size() {
		return fmt.Errorf("shm: grow %d -> %d: %w", r.Size(), newDataSize, ErrShrink)
	}

	gen := r.Generation() + 1
	total := HeaderSize + newDataSize
	if err := unix.Munmap(r.mapping); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	r.mapping = nil
	if err := unix.Ftruncate(r.fd, int64(total)); err != nil {
		return fmt.Errorf("shm: ftruncate to %d: %w", total, err)
	}
	mapping, err := unix.Mmap(r.fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: mmap after grow: %w", err)
	}
	r.mapping = mapping
	binary.LittleEndian.PutUint64(mapping[offSize:], uint64(newDataSize))
	binary.LittleEndian.PutUint32(mapping[offGeneration:], gen)
	r.mappedGen = gen
	r.log.Info("shm region grown", "name", r.name, "size", newDataSize, "generation", gen)
	return nil
}

// Remap refreshes a peer's mapping after the owner grew the region.
// Calling it when nothing changed is a no-op.
func (r *Region) Remap() error {
	if r.mapping == nil {
		return ErrClosed
	}
	var sb unix.Stat_t
	if err := unix.Fstat(r.fd, &sb); err != nil {
		return fmt.Errorf("shm: fstat: %w", err)
	}
	gen := r.Generation()
	if int(sb.Size) == len(r.mapping) && gen == r.mappedGen {
		return nil
	}
	if err := unix.Munmap(r.mapping); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	r.mapping = nil
	mapping, err := unix.Mmap(r.fd, 0, int(sb.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shm: mmap after remap: %w", err)
	}
	r.mapping = mapping
	r.mappedGen = binary.LittleEndian.Uint32(mapping[offGeneration:])
	r.log.Debug("shm region remapped", "name", r.name, "size", r.Size(), "generation", r.mappedGen)
	return nil
}

// Close unmaps the region and, for the owner, unlinks the name.
func (r *Region) Close() error {
	if r.mapping == nil && r.fd < 0 {
		return nil
	}
	var first error
	if r.mapping != nil {
		if err := unix.Munmap(r.mapping); err != nil && first == nil {
			first = fmt.Errorf("shm: munmap: %w", err)
		}
		r.mapping = nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil && first == nil {
			first = fmt.Errorf("shm: close: %w", err)
		}
		r.fd = -1
	}
	if r.owner {
		if err := unix.Unlink(shmDir + r.name); err != nil && !errors.Is(err, unix.ENOENT) && first == nil {
			first = fmt.Errorf("shm: unlink: %w", err)
		}
	}
	return first
}
