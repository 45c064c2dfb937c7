package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/packet"
	"github.com/TeamMavericKX/firmlockv01/pkg/transport"
)

// Fixed response payload sizes. The device firmware emits these
// layouts verbatim; anything shorter is malformed.
const (
	infoSize     = attest.DeviceIDSize + 3
	pcrBankSize  = attest.NumPCRs * attest.PCRSize
	evidenceSize = attest.DeviceIDSize + attest.NonceSize + 4 +
		attest.NumPCRs*attest.PCRSize + attest.SignatureSize + attest.CertificateSize
	versionSize = 3
)

// Client is the transport-backed Device implementation. It owns the
// exact byte-offset parsing of each response layout and nothing else:
// transport errors propagate unchanged, and there is no retry logic at
// this layer.
type Client struct {
	tr *transport.Transport
}

// NewClient wraps an exchange transport.
func NewClient(tr *transport.Transport) *Client {
	return &Client{tr: tr}
}

// Connect opens the underlying link.
func (c *Client) Connect(ctx context.Context) error {
	return c.tr.Connect(ctx)
}

// Close closes the underlying link.
func (c *Client) Close() error {
	return c.tr.Close()
}

// Info requests the identity block: 16 NUL-padded ASCII id bytes plus
// major, minor, patch version bytes.
func (c *Client) Info() (*Info, error) {
	resp, err := c.tr.SendCommand(packet.CmdGetInfo, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < infoSize {
		return nil, fmt.Errorf("%w: info payload %d bytes, want %d", ErrMalformedResponse, len(resp.Payload), infoSize)
	}

	return &Info{
		DeviceID:        parseDeviceID(resp.Payload[:attest.DeviceIDSize]),
		FirmwareVersion: formatVersion(resp.Payload[attest.DeviceIDSize : attest.DeviceIDSize+3]),
	}, nil
}

// PCRBank reads all four measurement registers.
func (c *Client) PCRBank() (attest.PCRBank, error) {
	resp, err := c.tr.SendCommand(packet.CmdGetPCRs, nil)
	if err != nil {
		return attest.PCRBank{}, err
	}
	if len(resp.Payload) < pcrBankSize {
		return attest.PCRBank{}, fmt.Errorf("%w: pcr payload %d bytes, want %d", ErrMalformedResponse, len(resp.Payload), pcrBankSize)
	}
	return attest.ParsePCRBank(resp.Payload)
}

// Attest sends the challenge (nonce plus little-endian timestamp) and
// parses the full evidence layout from the response.
func (c *Client) Attest(nonce []byte, timestamp uint32) (*attest.Evidence, error) {
	challenge := make([]byte, 0, attest.NonceSize+4)
	challenge = append(challenge, nonce...)
	challenge = binary.LittleEndian.AppendUint32(challenge, timestamp)

	resp, err := c.tr.SendCommand(packet.CmdAttest, challenge)
	if err != nil {
		return nil, err
	}
	if len(resp.Payload) < evidenceSize {
		return nil, fmt.Errorf("%w: evidence payload %d bytes, want %d", ErrMalformedResponse, len(resp.Payload), evidenceSize)
	}

	p := resp.Payload
	offset := 0
	ev := &attest.Evidence{}

	ev.DeviceID = parseDeviceID(p[offset : offset+attest.DeviceIDSize])
	offset += attest.DeviceIDSize

	ev.Nonce = bytes.Clone(p[offset : offset+attest.NonceSize])
	offset += attest.NonceSize

	ev.Timestamp = binary.LittleEndian.Uint32(p[offset : offset+4])
	offset += 4

	bank, err := attest.ParsePCRBank(p[offset : offset+attest.NumPCRs*attest.PCRSize])
	if err != nil {
		return nil, err
	}
	ev.PCRs = bank
	offset += attest.NumPCRs * attest.PCRSize

	ev.Signature = bytes.Clone(p[offset : offset+attest.SignatureSize])
	offset += attest.SignatureSize

	ev.Certificate = bytes.Clone(p[offset : offset+attest.CertificateSize])

	return ev, nil
}

// Recover triggers factory PCR restoration. The device holds the
// response until restoration completes, so this blocks up to the
// transport timeout.
func (c *Client) Recover() error {
	_, err := c.tr.SendCommand(packet.CmdRecover, nil)
	return err
}

// FirmwareVersion reads the three version bytes.
func (c *Client) FirmwareVersion() (string, error) {
	resp, err := c.tr.SendCommand(packet.CmdGetVersion, nil)
	if err != nil {
		return "", err
	}
	if len(resp.Payload) < versionSize {
		return "", fmt.Errorf("%w: version payload %d bytes, want %d", ErrMalformedResponse, len(resp.Payload), versionSize)
	}
	return formatVersion(resp.Payload[:3]), nil
}

func parseDeviceID(raw []byte) string {
	return string(bytes.TrimRight(raw, "\x00"))
}

func formatVersion(v []byte) string {
	return fmt.Sprintf("v%d.%d.%d", v[0], v[1], v[2])
}
