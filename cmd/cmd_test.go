package cmd

import (
	"bytes"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/pipeline"
)

func writeCapture(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, proto := range []layers.IPProtocol{layers.IPProtocolUDP, layers.IPProtocolTCP, layers.IPProtocolUDP} {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, byte(i)},
			DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto,
			SrcIP: net.IPv4(10, 0, 0, byte(i+1)), DstIP: net.IPv4(10, 0, 0, 254)}

		var l4 gopacket.SerializableLayer
		if proto == layers.IPProtocolTCP {
			tcp := &layers.TCP{SrcPort: 40000, DstPort: 80, SYN: true}
			require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
			l4 = tcp
		} else {
			udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
			require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
			l4 = udp
		}

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, l4))
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, int64(i)), CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}

	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDissectText(t *testing.T) {
	stdout, stderr, err := execute(t, "dissect", writeCapture(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 9)
	assert.True(t, strings.HasPrefix(lines[0], "[packet 1] ETHERNET"), lines[0])
	assert.True(t, strings.HasPrefix(lines[5], "[packet 2] TCP"), lines[5])

	var got map[string]pipeline.Stats
	require.NoError(t, yaml.Unmarshal([]byte(stderr), &got))
	assert.Equal(t, pipeline.Stats{Read: 3, Published: 3}, got["stats"])
}

func TestDissectJSONWithFilter(t *testing.T) {
	stdout, _, err := execute(t, "dissect", writeCapture(t), "--json", "--bpf", "tcp")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"protocol":"TCP"`)
	assert.Contains(t, lines[2], `"packet_id":2`)
}

func TestDissectAsync(t *testing.T) {
	stdout, stderr, err := execute(t, "dissect", writeCapture(t), "--mode", "async", "--partitions", "2")
	require.NoError(t, err)
	assert.Equal(t, 9, strings.Count(stdout, "[packet "))
	assert.Contains(t, stderr, "published: 3")
}

func TestDissectProtocolSubset(t *testing.T) {
	stdout, _, err := execute(t, "dissect", writeCapture(t), "--protocols", "ethernet,ipv4")
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(stdout, "[packet "))
	assert.NotContains(t, stdout, " UDP ")
}

func TestDissectErrors(t *testing.T) {
	_, _, err := execute(t, "dissect")
	assert.Error(t, err)

	_, _, err = execute(t, "dissect", filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)

	_, _, err = execute(t, "dissect", writeCapture(t), "--mode", "parallel")
	assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)

	_, _, err = execute(t, "dissect", writeCapture(t), "--bpf", "port 80")
	assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)

	_, _, err = execute(t, "dissect", writeCapture(t), "--protocols", "sctp")
	assert.Error(t, err)
}

func TestDissectWithConfigFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "layers.jsonl")
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	content := `
dissector:
  log:
    level: warn
  source:
    path: "` + writeCapture(t) + `"
    bpf: "udp"
  sinks:
    - type: file
      options:
        path: "` + out + `"
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	_, stderr, err := execute(t, "dissect", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "filtered: 1")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(string(data), "\n"))
}

func TestValidate(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
dissector:
  dispatcher:
    mode: async
  sinks:
    - type: memory
`), 0644))

	stdout, _, err := execute(t, "validate", "-c", cfgPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "VALID: 1 sink(s), async dispatch"))

	var dumped map[string]config.Config
	require.NoError(t, yaml.Unmarshal([]byte(stdout[strings.Index(stdout, "\n")+1:]), &dumped))
	assert.Equal(t, 4, dumped["dissector"].Dispatcher.Partitions)
	assert.Equal(t, "memory", dumped["dissector"].Sinks[0].Type)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"UnknownSink": `
dissector:
  sinks:
    - type: carrier-pigeon
`,
		"UnknownProtocol": `
dissector:
  dispatcher:
    protocols: ["sctp"]
`,
		"BadFilter": `
dissector:
  source:
    bpf: "portrange 1-2"
`,
		"BadMode": `
dissector:
  dispatcher:
    mode: "parallel"
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			cfgPath := filepath.Join(t.TempDir(), "config.yml")
			require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
			_, _, err := execute(t, "validate", "-c", cfgPath)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "dissector "+version)
	assert.Contains(t, stdout, "analyzers: [ETHERNET IPV4 IPV6 TCP UDP]")
	assert.Contains(t, stdout, "kafka")
}
