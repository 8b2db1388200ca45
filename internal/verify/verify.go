// Package verify checks fetched artifacts against a formula's checksum and,
// when the formula names one, a detached OpenPGP signature.
package verify

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/rs/zerolog"

	"github.com/ZebulonRouseFrantzich/keg/internal/formula"
	"github.com/ZebulonRouseFrantzich/keg/internal/kerr"
)

// Method records how an artifact was verified.
type Method string

const (
	MethodUnchecked Method = "unchecked"
	MethodSHA256    Method = "sha256"
	MethodSHA512    Method = "sha512"
	MethodOpenPGP   Method = "openpgp"
)

// UncheckedWarning is attached to results for formulas that opted out of
// verification.
const UncheckedWarning = "artifact was not verified: formula is marked unchecked"

// Result describes a successful verification.
type Result struct {
	Method  Method
	Digest  string // computed digest, empty for unchecked
	Signer  string // OpenPGP identity, empty otherwise
	Warning string
}

// Verifier checks artifacts. It is stateless and safe for concurrent use.
type Verifier struct {
	logger zerolog.Logger
}

// New creates a Verifier that logs unchecked artifacts to logger.
func New(logger zerolog.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify checks data against sum.
func (v *Verifier) Verify(data []byte, sum formula.Checksum) (*Result, error) {
	return v.VerifyReader(bytes.NewReader(data), sum)
}

// VerifyFile checks the file at path against sum.
func (v *Verifier) VerifyFile(path string, sum formula.Checksum) (*Result, error) {
	if sum.IsUnchecked() || sum.IsMissing() {
		return v.VerifyReader(nil, sum)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	return v.VerifyReader(f, sum)
}

// VerifyReader checks the stream r against sum. An unchecked formula passes
// with a warning; a missing checksum fails closed.
func (v *Verifier) VerifyReader(r io.Reader, sum formula.Checksum) (*Result, error) {
	switch {
	case sum.IsUnchecked():
		v.logger.Warn().Msg(UncheckedWarning)
		return &Result{Method: MethodUnchecked, Warning: UncheckedWarning}, nil
	case sum.IsMissing():
		return nil, kerr.New(kerr.CodeChecksumMismatch, "formula declares no checksum and is not marked unchecked")
	}

	actual, err := Digest(sum.Algorithm, r)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(actual, sum.Digest) {
		return nil, kerr.Newf(kerr.CodeChecksumMismatch, "checksum mismatch:\nactual:   %s:%s\nexpected: %s",
			sum.Algorithm, actual, sum.String()).
			With("expected", sum.String()).
			With("actual", sum.Algorithm+":"+actual)
	}

	v.logger.Debug().Str("algorithm", sum.Algorithm).Str("digest", actual).Msg("checksum verified")
	return &Result{Method: Method(sum.Algorithm), Digest: actual}, nil
}

// Digest hashes r with the named algorithm and returns lowercase hex.
func Digest(algorithm string, r io.Reader) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algorithm) {
	case formula.AlgorithmSHA256:
		h = sha256.New()
	case formula.AlgorithmSHA512:
		h = sha512.New()
	default:
		return "", kerr.Newf(kerr.CodeChecksumMismatch, "unsupported checksum algorithm %q", algorithm)
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifySignature checks a detached signature (armored or binary) over the
// artifact against keyring (armored or binary).
func (v *Verifier) VerifySignature(artifact io.ReadSeeker, signature, keyring []byte) (*Result, error) {
	keys, err := ParseKeyring(keyring)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeChecksumMismatch, "load keyring")
	}

	signer, err := openpgp.CheckArmoredDetachedSignature(keys, artifact, bytes.NewReader(signature), nil)
	if err != nil {
		if _, seekErr := artifact.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("rewind artifact: %w", seekErr)
		}
		signer, err = openpgp.CheckDetachedSignature(keys, artifact, bytes.NewReader(signature), nil)
	}
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeChecksumMismatch, "signature verification failed")
	}

	res := &Result{Method: MethodOpenPGP}
	for name := range signer.Identities {
		res.Signer = name
		break
	}
	v.logger.Debug().Str("signer", res.Signer).Msg("signature verified")
	return res, nil
}

// ParseKeyring reads an armored or binary OpenPGP keyring.
func ParseKeyring(data []byte) (openpgp.EntityList, error) {
	keys, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keys, nil
}
