package crypto

import (
	"strings"

	"github.com/google/uuid"
)

// License key wire format: an ASCII string of exactly three tilde-separated
// segments, "LSV~<random-segment>~<encrypted user id>". The whole key is
// itself encrypted with the KeyCodec before it is handed to a client, so a
// presented key always arrives as ciphertext.
const (
	LicenseKeyPrefix    = "LSV"
	licenseKeySeparator = "~"
	licenseKeySegments  = 3
)

// BuildLicenseKey assembles and encrypts a license key for userID. The
// random middle segment makes every issued key unique even for the same
// user.
func BuildLicenseKey(codec *KeyCodec, userID string) (string, error) {
	encUserID, err := codec.Encrypt(userID)
	if err != nil {
		return "", err
	}
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	plain := strings.Join([]string{LicenseKeyPrefix, random, encUserID}, licenseKeySeparator)
	return codec.Encrypt(plain)
}

// ExtractIdentity decrypts a presented license key ciphertext, validates
// its structure, and recovers both the plaintext user id and the encrypted
// user id segment (which the session cache stores verbatim). Any structural
// or cryptographic failure collapses to ErrInvalidLicenseMaterial.
func ExtractIdentity(codec *KeyCodec, licenseKeyCiphertext string) (userID, encryptedUserID string, err error) {
	plain, err := codec.Decrypt(licenseKeyCiphertext)
	if err != nil {
		return "", "", err
	}
	encUserID, err := parseLicenseKey(plain)
	if err != nil {
		return "", "", err
	}
	userID, err = codec.Decrypt(encUserID)
	if err != nil {
		return "", "", err
	}
	return userID, encUserID, nil
}

// ExtractUserID is ExtractIdentity when only the user id is needed.
func ExtractUserID(codec *KeyCodec, licenseKeyCiphertext string) (string, error) {
	userID, _, err := ExtractIdentity(codec, licenseKeyCiphertext)
	return userID, err
}

// parseLicenseKey checks segment count and prefix, returning the encrypted
// user id segment.
func parseLicenseKey(plain string) (string, error) {
	parts := strings.Split(plain, licenseKeySeparator)
	if len(parts) != licenseKeySegments {
		return "", ErrInvalidLicenseMaterial
	}
	if parts[0] != LicenseKeyPrefix {
		return "", ErrInvalidLicenseMaterial
	}
	if parts[1] == "" || parts[2] == "" {
		return "", ErrInvalidLicenseMaterial
	}
	return parts[2], nil
}
