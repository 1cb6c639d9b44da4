// Package snapshot implements dump.rdb: a point-in-time binary dump of the
// keyspace. The byte layout is fixed by the wire spec (magic "RUSTIDB", a
// little-endian header, then fixed-layout entries, then a trailing CRC64),
// so unlike the AOF this package cannot reuse RESP framing — it is a
// from-scratch binary codec. The surrounding discipline (write to a temp
// file, fsync, atomic rename over the previous snapshot) is grounded on the
// predecessor's storage/snapshot.Manager.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
)

const (
	Magic         = "RUSTIDB"
	FormatVersion = 1

	TagString uint8 = 1
	TagList   uint8 = 2
	TagSet    uint8 = 3

	noTTL = -1
)

var (
	ErrCorruptMagic    = errors.New("snapshot: missing or corrupt magic header")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrTruncated       = errors.New("snapshot: truncated record")
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Record is one keyspace entry in the shape the snapshot file stores it,
// decoupled from the storage package's Entry/Value types so this package
// has no dependency on storage (storage depends on snapshot, not the other
// way around).
type Record struct {
	Key       []byte
	Tag       uint8
	HasTTL    bool
	TTLMillis int64 // absolute unix millis; meaningful only if HasTTL
	Str       []byte
	Items     [][]byte // used for Tag == TagList or TagSet
}

// Save writes records to path via a temp-file-then-rename sequence: the
// previous snapshot (if any) stays intact and readable until the new one
// is fully durable on disk.
func Save(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	crc := crc64.New(crcTable)
	mw := io.MultiWriter(bw, crc)

	if _, err := mw.Write([]byte(Magic)); err != nil {
		return err
	}
	if err := writeU16(mw, FormatVersion); err != nil {
		return err
	}
	if err := writeU64(mw, uint64(len(records))); err != nil {
		return err
	}
	for _, r := range records {
		if err := writeRecord(mw, r); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	sum := crc.Sum64()
	if err := binary.Write(tmp, binary.LittleEndian, sum); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	succeeded = true
	return nil
}

// EncodeRecord renders a single Record in the same layout Save uses for
// each entry, without the file-level magic/header/checksum framing. It is
// reused as the wire payload for `CLUSTER RESTORE key ttl value`, so a
// migrated key's value travels between nodes in exactly the format it
// would have been written to disk in.
func EncodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeRecord(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeRecord reverses EncodeRecord.
func DecodeRecord(b []byte) (Record, error) {
	return readRecord(bytes.NewReader(b))
}

func writeRecord(w io.Writer, r Record) error {
	if err := writeU32(w, uint32(len(r.Key))); err != nil {
		return err
	}
	if _, err := w.Write(r.Key); err != nil {
		return err
	}
	if _, err := w.Write([]byte{r.Tag}); err != nil {
		return err
	}
	ttl := int64(noTTL)
	if r.HasTTL {
		ttl = r.TTLMillis
	}
	if err := binary.Write(w, binary.LittleEndian, ttl); err != nil {
		return err
	}
	switch r.Tag {
	case TagString:
		return writeBytes(w, r.Str)
	case TagList, TagSet:
		if err := writeU32(w, uint32(len(r.Items))); err != nil {
			return err
		}
		for _, it := range r.Items {
			if err := writeBytes(w, it); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("snapshot: unknown type tag %d", r.Tag)
	}
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeU32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeU16(w io.Writer, v uint16) error { return binary.Write(w, binary.LittleEndian, v) }
func writeU32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }
func writeU64(w io.Writer, v uint64) error { return binary.Write(w, binary.LittleEndian, v) }

// Load reads and validates path, returning its records. A missing file is
// not an error (the node simply has no prior snapshot); a bad magic header
// or checksum mismatch is, per the spec's "refuses to start and names the
// corrupt file" recovery rule.
func Load(path string) ([]Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) < len(Magic)+2+8+8 {
		return nil, ErrTruncated
	}
	trailer := raw[len(raw)-8:]
	body := raw[:len(raw)-8]
	wantSum := binary.LittleEndian.Uint64(trailer)
	gotSum := crc64.Checksum(body, crcTable)
	if gotSum != wantSum {
		return nil, ErrChecksumMismatch
	}

	r := bufio.NewReader(bytes.NewReader(body))
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return nil, ErrCorruptMagic
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, ErrTruncated
	}
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, ErrTruncated
	}
	records := make([]Record, 0, count)
	for i := uint64(0); i < count; i++ {
		rec, err := readRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return records, nil // final incomplete record discarded
			}
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func readRecord(r io.Reader) (Record, error) {
	var keyLen uint32
	if err := binary.Read(r, binary.LittleEndian, &keyLen); err != nil {
		return Record{}, err
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	var tagBuf [1]byte
	if _, err := io.ReadFull(r, tagBuf[:]); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	var ttl int64
	if err := binary.Read(r, binary.LittleEndian, &ttl); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	rec := Record{Key: key, Tag: tagBuf[0]}
	if ttl != noTTL {
		rec.HasTTL = true
		rec.TTLMillis = ttl
	}
	switch rec.Tag {
	case TagString:
		b, err := readBytes(r)
		if err != nil {
			return Record{}, err
		}
		rec.Str = b
	case TagList, TagSet:
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return Record{}, io.ErrUnexpectedEOF
		}
		items := make([][]byte, count)
		for i := range items {
			b, err := readBytes(r)
			if err != nil {
				return Record{}, err
			}
			items[i] = b
		}
		rec.Items = items
	default:
		return Record{}, fmt.Errorf("snapshot: unknown type tag %d", rec.Tag)
	}
	return rec, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return b, nil
}
