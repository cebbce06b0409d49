// Package packaging turns a finished working directory into an encrypted, compressed package.
package packaging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/charmbracelet/log"

	"github.com/desertthunder/exporter/internal/shared"
)

// EncryptedSuffix is appended to the name of every encrypted file.
const EncryptedSuffix = ".gpg"

// EncryptorOpts configures an [Encryptor].
type EncryptorOpts struct {
	KeysDir    string   // directory holding one public key file per recipient, named after the recipient
	Recipients []string // recipients that can decrypt the package
	MasterKey  string   // optional recipient added to every package
	DryRun     bool
	Logger     *log.Logger
}

// Encryptor encrypts files to a fixed set of OpenPGP recipients.
type Encryptor struct {
	to     openpgp.EntityList
	dryRun bool
	logger *log.Logger
}

// NewEncryptor loads the public key of every recipient and the master key.
//
// A missing or unreadable key returns an error wrapping [shared.ErrPackaging].
func NewEncryptor(opts EncryptorOpts) (*Encryptor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	recipients := make([]string, 0, len(opts.Recipients)+1)
	recipients = append(recipients, opts.Recipients...)
	if opts.MasterKey != "" {
		recipients = append(recipients, opts.MasterKey)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: no recipients configured", shared.ErrPackaging)
	}

	e := &Encryptor{dryRun: opts.DryRun, logger: logger}
	for _, r := range recipients {
		logger.Info("using gpg key", "recipient", r)
		keys, err := readKeyFile(filepath.Join(opts.KeysDir, r))
		if err != nil {
			return nil, fmt.Errorf("%w: key for %s: %w", shared.ErrPackaging, r, err)
		}
		e.to = append(e.to, keys...)
	}
	return e, nil
}

// readKeyFile accepts armored and binary key rings.
func readKeyFile(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "-----BEGIN") {
		return openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	}
	return openpgp.ReadKeyRing(bytes.NewReader(data))
}

// EncryptFiles encrypts each file to path+".gpg" and removes the plaintext.
//
// Missing files are skipped. In dry-run mode nothing is written but the encrypted names are still returned.
func (e *Encryptor) EncryptFiles(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			e.logger.Info("skipping missing file", "file", p)
			continue
		}

		encrypted := p + EncryptedSuffix
		if e.dryRun {
			e.logger.Info("dry run: producing encrypted file", "file", encrypted)
			out = append(out, encrypted)
			continue
		}

		e.logger.Info("encrypting file", "file", p)
		if err := e.encryptFile(p, encrypted); err != nil {
			return out, fmt.Errorf("%w: %s: %w", shared.ErrPackaging, p, err)
		}
		if err := os.Remove(p); err != nil {
			return out, fmt.Errorf("%w: failed to remove plaintext %s: %w", shared.ErrPackaging, p, err)
		}
		out = append(out, encrypted)
	}
	return out, nil
}

func (e *Encryptor) encryptFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	hints := &openpgp.FileHints{IsBinary: true, FileName: filepath.Base(src)}
	w, err := openpgp.Encrypt(f, e.to, nil, hints, nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
