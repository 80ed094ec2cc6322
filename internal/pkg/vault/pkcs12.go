package vault

import (
	"crypto/x509"
	"errors"
	"regexp"
	"strings"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/ManuelReschke/FiscalFox/app/models"
)

var errNoCertificate = errors.New("no certificate in container")

var (
	cnpjAfterColon = regexp.MustCompile(`:(\d{14})\b`)
	cnpjAnywhere   = regexp.MustCompile(`\d{14}`)
)

// CertificateInfo is what could be read from a PKCS#12 container.
type CertificateInfo struct {
	NotBefore time.Time
	NotAfter  time.Time
	Subject   string
	CNPJ      string
}

// inspectContainer opens a .pfx/.p12 blob with password and returns details of
// the certificate that belongs to the private key. Legacy (RC2/3DES) and
// PBES2/AES containers are both accepted.
func inspectContainer(data []byte, password string) (*CertificateInfo, error) {
	_, leaf, _, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, err
	}
	if leaf == nil {
		return nil, errNoCertificate
	}
	return infoFrom(leaf), nil
}

func infoFrom(cert *x509.Certificate) *CertificateInfo {
	cn := cert.Subject.CommonName
	return &CertificateInfo{
		NotBefore: cert.NotBefore.UTC(),
		NotAfter:  cert.NotAfter.UTC(),
		Subject:   cn,
		CNPJ:      extractCNPJ(cn),
	}
}

// extractCNPJ reads the tax id from an ICP-Brasil common name such as
// "EMPRESA LTDA:12345678000195".
func extractCNPJ(cn string) string {
	if m := cnpjAfterColon.FindStringSubmatch(cn); m != nil {
		return m[1]
	}
	return cnpjAnywhere.FindString(strings.TrimSpace(cn))
}

// statusFor classifies a parsed certificate at now. A certificate that is not
// valid yet cannot be used for signing and stays unverified.
func statusFor(info *CertificateInfo, now time.Time) string {
	if info == nil || now.Before(info.NotBefore) {
		return models.CertificateStatusUnverified
	}
	if now.After(info.NotAfter) {
		return models.CertificateStatusExpired
	}
	return models.CertificateStatusValid
}
