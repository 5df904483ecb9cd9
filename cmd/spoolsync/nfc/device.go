package nfc

import (
	"fmt"

	libnfc "github.com/clausecker/nfc/v2"
	"go.uber.org/zap"
)

// MIFARE Ultralight / NTAG21x commands
const (
	cmdRead  = 0x30
	cmdWrite = 0xA2

	transceiveTimeoutMs = 500
)

var tagModulation = libnfc.Modulation{Type: libnfc.ISO14443a, BaudRate: libnfc.Nbr106}

// libnfcTransport drives a PN532 class reader through libnfc.
type libnfcTransport struct {
	dev libnfc.Device
}

// openTransport opens the device behind the given libnfc connection string.
// An empty string lets libnfc autodetect the first reader.
func openTransport(connstring string) (*libnfcTransport, error) {
	dev, err := libnfc.Open(connstring)
	if err != nil {
		return nil, fmt.Errorf("failed to open NFC device %q: %w", connstring, err)
	}
	if err := dev.InitiatorInit(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to initialise NFC initiator: %w", err)
	}
	zap.S().Infof("Using NFC device: %s", dev.Connection())
	return &libnfcTransport{dev: dev}, nil
}

func (t *libnfcTransport) PollTarget() (uid []byte, present bool, err error) {
	targets, err := t.dev.InitiatorListPassiveTargets(tagModulation)
	if err != nil {
		return nil, false, err
	}
	if len(targets) == 0 {
		return nil, false, nil
	}

	target, ok := targets[0].(*libnfc.ISO14443aTarget)
	if !ok {
		// not a tag type we can hold spool records on
		return nil, false, nil
	}
	uid = make([]byte, target.UIDLen)
	copy(uid, target.UID[:target.UIDLen])

	// select the tag so the READ/WRITE transceives below talk to it
	if _, err := t.dev.InitiatorSelectPassiveTarget(tagModulation, uid); err != nil {
		return nil, false, err
	}
	return uid, true, nil
}

func (t *libnfcTransport) ReadPage(page byte) ([]byte, error) {
	tx := []byte{cmdRead, page}
	rx := make([]byte, 16)
	n, err := t.dev.InitiatorTransceiveBytes(tx, rx, transceiveTimeoutMs)
	if err != nil {
		return nil, err
	}
	return rx[:n], nil
}

func (t *libnfcTransport) WritePage(page byte, data []byte) error {
	tx := append([]byte{cmdWrite, page}, data...)
	rx := make([]byte, 1)
	if _, err := t.dev.InitiatorTransceiveBytes(tx, rx, transceiveTimeoutMs); err != nil {
		return err
	}
	return nil
}

func (t *libnfcTransport) Close() error {
	return t.dev.Close()
}
