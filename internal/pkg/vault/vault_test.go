package vault

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/fiscal"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/objectstore"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/testutil"
)

const tenantID = "0b7e3c52-5d0f-4b55-8a3e-8f1b6f1b2c3d"

func newTestService(t *testing.T, secret string) (*Service, *objectstore.MemoryStore) {
	t.Helper()
	db := testutil.NewTestDB(t)
	ring, err := NewStaticKeyRing(secret)
	require.NoError(t, err)
	store := objectstore.NewMemoryStore("fiscal-certs")
	return NewService(store, repository.NewCertificateRepository(db), ring), store
}

func TestStoreCertificate_RoundTrip(t *testing.T) {
	svc, store := newTestService(t, "server-secret")
	ctx := context.Background()

	cert, err := svc.StoreCertificate(ctx, CertificateUpload{
		TenantID: tenantID,
		FileName: "empresa.PFX",
		Data:     []byte("not really pkcs12"),
		Password: "cert-pass-123",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusUnverified, cert.Status)
	assert.Equal(t, "fiscal-certs", cert.Bucket)
	assert.True(t, strings.HasPrefix(cert.ObjectKey, tenantID+"/focus_nfe/"))
	assert.True(t, strings.HasSuffix(cert.ObjectKey, ".pfx"))

	ok, err := store.Exists(ctx, cert.ObjectKey)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := svc.GetCertificate(ctx, tenantID)
	require.NoError(t, err)
	require.NotNil(t, active)

	plain, err := svc.DecryptPassword(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, "cert-pass-123", plain)

	blob, err := svc.LoadContainer(ctx, active)
	require.NoError(t, err)
	assert.Equal(t, "not really pkcs12", string(blob))
}

func TestStoreCertificate_DifferentSecretCannotDecrypt(t *testing.T) {
	svc, _ := newTestService(t, "secret-a")
	ctx := context.Background()

	cert, err := svc.StoreCertificate(ctx, CertificateUpload{
		TenantID: tenantID,
		FileName: "a.p12",
		Data:     []byte{0x30, 0x01},
		Password: "cert-pass-123",
	})
	require.NoError(t, err)

	otherRing, err := NewStaticKeyRing("secret-b")
	require.NoError(t, err)
	other := &Service{ring: otherRing}

	_, err = other.DecryptPassword(ctx, cert)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestStoreCertificate_JSONOmitsCipherFields(t *testing.T) {
	svc, _ := newTestService(t, "server-secret")

	cert, err := svc.StoreCertificate(context.Background(), CertificateUpload{
		TenantID: tenantID,
		FileName: "a.p12",
		Data:     []byte{1},
		Password: "cert-pass-123",
	})
	require.NoError(t, err)

	raw, err := json.Marshal(cert)
	require.NoError(t, err)
	body := string(raw)
	assert.NotContains(t, body, cert.PasswordCiphertext)
	assert.NotContains(t, body, "password")
	assert.NotContains(t, body, "cert-pass-123")
}

func TestStoreCertificate_Validation(t *testing.T) {
	svc, store := newTestService(t, "server-secret")
	ctx := context.Background()

	tests := []struct {
		name string
		in   CertificateUpload
	}{
		{"bad tenant", CertificateUpload{TenantID: "nope", FileName: "a.pfx", Data: []byte{1}, Password: "x"}},
		{"empty data", CertificateUpload{TenantID: tenantID, FileName: "a.pfx", Password: "x"}},
		{"no password", CertificateUpload{TenantID: tenantID, FileName: "a.pfx", Data: []byte{1}}},
		{"wrong extension", CertificateUpload{TenantID: tenantID, FileName: "a.pem", Data: []byte{1}, Password: "x"}},
		{"too large", CertificateUpload{TenantID: tenantID, FileName: "a.pfx", Data: make([]byte, MaxCertificateSize+1), Password: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StoreCertificate(ctx, tt.in)
			require.Error(t, err)
			assert.Equal(t, fiscal.KindValidation, fiscal.KindOf(err))
		})
	}
	assert.Empty(t, store.Keys())
}

func TestGetCertificate_NoneYet(t *testing.T) {
	svc, _ := newTestService(t, "server-secret")
	cert, err := svc.GetCertificate(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestExtractCNPJ(t *testing.T) {
	assert.Equal(t, "12345678000195", extractCNPJ("EMPRESA EXEMPLO LTDA:12345678000195"))
	assert.Equal(t, "12345678000195", extractCNPJ("CNPJ 12345678000195 EMPRESA"))
	assert.Equal(t, "", extractCNPJ("PESSOA FISICA:123"))
}

func TestStatusFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, models.CertificateStatusUnverified, statusFor(nil, now))
	assert.Equal(t, models.CertificateStatusValid, statusFor(&CertificateInfo{NotAfter: now.Add(time.Hour)}, now))
	assert.Equal(t, models.CertificateStatusExpired, statusFor(&CertificateInfo{NotAfter: now.Add(-time.Hour)}, now))
	assert.Equal(t, models.CertificateStatusUnverified, statusFor(&CertificateInfo{
		NotBefore: now.Add(time.Hour),
		NotAfter:  now.Add(48 * time.Hour),
	}, now))
}

// The fixtures hold a self-signed certificate for
// "EMPRESA EXEMPLO LTDA:12345678000195", valid from 2026-10-19 for 100 years,
// protected with "cert-pass-123".
func TestStoreCertificate_InspectsContainer(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
	}{
		{"legacy rc2 and 3des", "empresa-legacy.p12"},
		{"pbes2 aes-256", "empresa-aes.pfx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join("testdata", tt.fixture))
			require.NoError(t, err)

			svc, _ := newTestService(t, "server-secret")
			svc.now = func() time.Time { return time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC) }

			cert, err := svc.StoreCertificate(context.Background(), CertificateUpload{
				TenantID: tenantID,
				FileName: tt.fixture,
				Data:     data,
				Password: "cert-pass-123",
			})
			require.NoError(t, err)

			assert.Equal(t, models.CertificateStatusValid, cert.Status)
			require.NotNil(t, cert.CNPJ)
			assert.Equal(t, "12345678000195", *cert.CNPJ)
			require.NotNil(t, cert.Subject)
			assert.Equal(t, "EMPRESA EXEMPLO LTDA:12345678000195", *cert.Subject)
			require.NotNil(t, cert.ValidFrom)
			require.NotNil(t, cert.ValidTo)
			assert.Equal(t, "2026-10-19", cert.ValidFrom.UTC().Format("2006-01-02"))
			assert.Equal(t, "2126-09-25", cert.ValidTo.UTC().Format("2006-01-02"))

			stored, err := svc.GetCertificate(context.Background(), tenantID)
			require.NoError(t, err)
			require.NotNil(t, stored)
			assert.Equal(t, models.CertificateStatusValid, stored.Status)
			require.NotNil(t, stored.CNPJ)
			assert.Equal(t, "12345678000195", *stored.CNPJ)
		})
	}
}

func TestStoreCertificate_WrongPasswordIsUnverified(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "empresa-legacy.p12"))
	require.NoError(t, err)

	svc, _ := newTestService(t, "server-secret")
	cert, err := svc.StoreCertificate(context.Background(), CertificateUpload{
		TenantID: tenantID,
		FileName: "empresa.p12",
		Data:     data,
		Password: "wrong-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusUnverified, cert.Status)
	assert.Nil(t, cert.CNPJ)
	assert.Nil(t, cert.ValidTo)
}

func TestStoreCertificate_NotYetValid(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "empresa-aes.pfx"))
	require.NoError(t, err)

	svc, _ := newTestService(t, "server-secret")
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	cert, err := svc.StoreCertificate(context.Background(), CertificateUpload{
		TenantID: tenantID,
		FileName: "empresa.pfx",
		Data:     data,
		Password: "cert-pass-123",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CertificateStatusUnverified, cert.Status)
	require.NotNil(t, cert.ValidFrom)
}
