// Package file reads packets from pcap and pcapng capture files.
package file

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/log"
	"firestige.xyz/dissector/internal/source"
)

const defaultBufferSize = 4096

var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// packetReader is implemented by both pcapgo readers.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads one capture file and numbers its packets from 1.
type Source struct {
	path     string
	closer   io.Closer
	reader   packetReader
	linkType layers.LinkType
	format   string
	nextID   core.PacketID
}

// Open opens the capture file at path, or stdin when path is "-".
// bufferSize sizes the read buffer.
func Open(path string, bufferSize int) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file source requires a path", core.ErrConfigInvalid)
	}
	if path == "-" {
		s, err := NewSource(os.Stdin, bufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to read capture from stdin: %w", err)
		}
		s.path = path
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	s, err := NewSource(f, bufferSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	s.path = path
	s.closer = f

	log.GetLogger().WithFields(map[string]interface{}{
		"path":      path,
		"format":    s.format,
		"link_type": s.linkType.String(),
	}).Info("capture file opened")
	return s, nil
}

// NewSource reads a capture from r, detecting pcapng by its magic number.
func NewSource(r io.Reader, bufferSize int) (*Source, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	br := bufio.NewReaderSize(r, bufferSize)

	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, fmt.Errorf("failed to read magic bytes: %w", err)
	}

	s := &Source{nextID: 1}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to create pcapng reader: %w", err)
		}
		s.reader, s.format = ng, "pcapng"
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create pcap reader: %w", err)
		}
		s.reader, s.format = pr, "pcap"
	}

	s.linkType = s.reader.LinkType()
	if _, err := source.TagForLinkType(s.linkType); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadPacket returns the next packet, or io.EOF at the end of the capture.
func (s *Source) ReadPacket() (source.Packet, error) {
	if s.reader == nil {
		return source.Packet{}, fmt.Errorf("file source is closed")
	}

	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return source.Packet{}, io.EOF
		}
		return source.Packet{}, fmt.Errorf("failed to read packet %d: %w", s.nextID, err)
	}

	p := source.Packet{
		ID:            s.nextID,
		Tag:           source.TagForData(s.linkType, data),
		Data:          data,
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	s.nextID++
	return p, nil
}

func (s *Source) LinkType() layers.LinkType { return s.linkType }

// Path returns the file the packets come from, empty for a plain reader.
func (s *Source) Path() string { return s.path }

// Format returns "pcap" or "pcapng".
func (s *Source) Format() string { return s.format }

func (s *Source) Close() error {
	s.reader = nil
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
