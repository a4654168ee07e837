// Package pcap provides PCAP file reading and network packet feature extraction.
package pcap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/hed1ad/goguardlof/pkg/dataset"
	goguardio "github.com/hed1ad/goguardlof/pkg/io"
)

var (
	_ goguardio.Reader           = (*Reader)(nil)
	_ goguardio.FeatureExtractor = (*FeatureExtractor)(nil)
)

// ErrNotPacket is returned when Extract is given something other than a packet.
var ErrNotPacket = errors.New("input is not a gopacket.Packet")

// Reader reads packets from pcap or pcapng files.
type Reader struct {
	closer    io.Closer
	source    gopacket.PacketDataSource
	linkType  layers.LinkType
	extractor *FeatureExtractor
	limit     int
}

// Option configures a Reader.
type Option func(*Reader)

// WithLimit stops reading after n packets. Zero reads everything.
func WithLimit(n int) Option {
	return func(r *Reader) {
		r.limit = n
	}
}

// NewFileReader creates a reader for pcap and pcapng files.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom creates a reader over an open capture stream. The format is
// detected from the leading magic number.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	br := bufio.NewReader(src)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	r := &Reader{extractor: NewFeatureExtractor()}

	// pcapng files start with a section header block of type 0x0A0D0D0A.
	if magic[0] == 0x0a && magic[1] == 0x0d && magic[2] == 0x0d && magic[3] == 0x0a {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		r.source, r.linkType = ng, ng.LinkType()
	} else {
		pr, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open pcap: %w", err)
		}
		r.source, r.linkType = pr, pr.LinkType()
	}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FeatureNames returns the columns Read produces.
func (r *Reader) FeatureNames() []string {
	return r.extractor.FeatureNames()
}

// Read returns one row per packet. A truncated trailing packet ends the
// read without error.
func (r *Reader) Read(ctx context.Context) (*dataset.Table, error) {
	if r.source == nil {
		return nil, errors.New("reader not initialized")
	}

	tbl := dataset.NewTable(r.extractor.FeatureNames()...)
	packetSource := gopacket.NewPacketSource(r.source, r.linkType)

	for r.limit == 0 || tbl.Len() < r.limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		packet, err := packetSource.NextPacket()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read packet %d: %w", tbl.Len(), err)
		}

		if err := tbl.Append(r.extractor.ExtractPacket(packet)); err != nil {
			return nil, err
		}
	}

	return tbl, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// FeatureExtractor extracts numerical features from network packets.
type FeatureExtractor struct {
	lastTimestamp time.Time
}

// NewFeatureExtractor creates a new packet feature extractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract converts a gopacket.Packet to a feature vector.
func (e *FeatureExtractor) Extract(data any) ([]float64, error) {
	packet, ok := data.(gopacket.Packet)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPacket, data)
	}
	return e.ExtractPacket(packet), nil
}

// ExtractPacket converts a packet to a feature vector.
// Features: [packet_size, inter_arrival_time, protocol, src_port, dst_port,
// tcp_flags, ip_ttl, payload_size]
func (e *FeatureExtractor) ExtractPacket(packet gopacket.Packet) []float64 {
	features := make([]float64, 8)

	// Packet size
	features[0] = float64(len(packet.Data()))

	// Inter-arrival time
	metadata := packet.Metadata()
	if metadata != nil && !metadata.Timestamp.IsZero() {
		if !e.lastTimestamp.IsZero() {
			features[1] = metadata.Timestamp.Sub(e.lastTimestamp).Seconds()
		}
		e.lastTimestamp = metadata.Timestamp
	}

	// Protocol
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		features[2] = 6 // TCP
		tcp := tcpLayer.(*layers.TCP)
		features[3] = float64(tcp.SrcPort)
		features[4] = float64(tcp.DstPort)
		features[5] = encodeTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		features[2] = 17 // UDP
		udp := udpLayer.(*layers.UDP)
		features[3] = float64(udp.SrcPort)
		features[4] = float64(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) != nil {
		features[2] = 1 // ICMP
	}

	// IP TTL, or hop limit for IPv6
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		features[6] = float64(ipLayer.(*layers.IPv4).TTL)
	} else if ip6Layer := packet.Layer(layers.LayerTypeIPv6); ip6Layer != nil {
		features[6] = float64(ip6Layer.(*layers.IPv6).HopLimit)
	}

	// Payload size
	if appLayer := packet.ApplicationLayer(); appLayer != nil {
		features[7] = float64(len(appLayer.Payload()))
	}

	return features
}

// FeatureNames returns the names of extracted features.
func (e *FeatureExtractor) FeatureNames() []string {
	return []string{
		"packet_size",
		"inter_arrival_time",
		"protocol",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ip_ttl",
		"payload_size",
	}
}

// encodeTCPFlags converts TCP flags to a numeric value.
func encodeTCPFlags(tcp *layers.TCP) float64 {
	var flags float64
	if tcp.SYN {
		flags += 1
	}
	if tcp.ACK {
		flags += 2
	}
	if tcp.FIN {
		flags += 4
	}
	if tcp.RST {
		flags += 8
	}
	if tcp.PSH {
		flags += 16
	}
	if tcp.URG {
		flags += 32
	}
	return flags
}
