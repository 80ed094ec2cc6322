package vault

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/FiscalFox/app/models"
	"github.com/ManuelReschke/FiscalFox/app/repository"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/fiscal"
	"github.com/ManuelReschke/FiscalFox/internal/pkg/objectstore"
)

// MaxCertificateSize is the largest accepted certificate container.
const MaxCertificateSize = 10 << 20

var allowedExtensions = map[string]bool{".pfx": true, ".p12": true}

// CertificateUpload is one certificate file plus its passphrase.
type CertificateUpload struct {
	TenantID    string `validate:"required,uuid"`
	Provider    string
	FileName    string `validate:"required"`
	ContentType string
	Data        []byte
	Password    string `validate:"required"`
}

// Service stores signing certificates. Blobs go to object storage, the
// passphrase is sealed and only metadata lands in the database.
type Service struct {
	store    objectstore.BlobStore
	certs    repository.CertificateRepository
	ring     KeyRing
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store objectstore.BlobStore, certs repository.CertificateRepository, ring KeyRing) *Service {
	return &Service{
		store:    store,
		certs:    certs,
		ring:     ring,
		validate: validator.New(),
		now:      time.Now,
	}
}

// StoreCertificate validates and stores an uploaded certificate. A container
// that cannot be opened with the passphrase is still stored as unverified.
func (s *Service) StoreCertificate(ctx context.Context, in CertificateUpload) (*models.FiscalCertificate, error) {
	const op = "vault.StoreCertificate"

	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.Provider == "" {
		in.Provider = models.FiscalProviderFocusNFe
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fiscal.ValidationError(op, describeValidation(err))
	}
	if len(in.Data) == 0 {
		return nil, fiscal.ValidationError(op, "certificate file is empty")
	}
	if len(in.Data) > MaxCertificateSize {
		return nil, fiscal.ValidationError(op, "certificate file exceeds 10 MiB")
	}
	ext := strings.ToLower(filepath.Ext(in.FileName))
	if !allowedExtensions[ext] {
		return nil, fiscal.ValidationError(op, "certificate must be a .pfx or .p12 file")
	}

	now := s.now()
	key := fmt.Sprintf("%s/%s/%d-%s%s", in.TenantID, in.Provider, now.Unix(), uuid.NewString(), ext)
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/x-pkcs12"
	}

	sealed, err := Encrypt(s.ring, in.Password)
	if err != nil {
		return nil, &fiscal.Error{Kind: fiscal.KindConfiguration, Op: op, Message: "failed to encrypt certificate password", Err: err}
	}

	if err := s.store.Put(ctx, key, in.Data, contentType); err != nil {
		return nil, &fiscal.Error{Kind: fiscal.KindPersistence, Op: op, Message: "failed to upload certificate", Err: err}
	}

	cert := &models.FiscalCertificate{
		TenantID:           in.TenantID,
		Provider:           in.Provider,
		Bucket:             s.store.Bucket(),
		ObjectKey:          key,
		OriginalFilename:   filepath.Base(in.FileName),
		ContentType:        contentType,
		SizeBytes:          int64(len(in.Data)),
		PasswordCiphertext: sealed.Ciphertext,
		PasswordIV:         sealed.IV,
		PasswordTag:        sealed.Tag,
		KeyVersion:         sealed.KeyVersion,
		Status:             models.CertificateStatusUnverified,
	}

	info, err := inspectContainer(in.Data, in.Password)
	if err != nil {
		log.Warnf("[Vault] Certificate for tenant %s could not be inspected: %v", in.TenantID, err)
	} else {
		cert.Status = statusFor(info, now)
		cert.ValidFrom = &info.NotBefore
		cert.ValidTo = &info.NotAfter
		if info.Subject != "" {
			cert.Subject = &info.Subject
		}
		if info.CNPJ != "" {
			cert.CNPJ = &info.CNPJ
		}
	}

	if err := s.certs.Create(ctx, cert); err != nil {
		return nil, fiscal.PersistenceError(op, err)
	}

	log.Infof("[Vault] Stored certificate %d for tenant %s (status=%s)", cert.ID, cert.TenantID, cert.Status)
	return cert, nil
}

// GetCertificate returns the active certificate of a tenant, or nil.
func (s *Service) GetCertificate(ctx context.Context, tenantID string) (*models.FiscalCertificate, error) {
	const op = "vault.GetCertificate"
	if _, err := uuid.Parse(strings.TrimSpace(tenantID)); err != nil {
		return nil, fiscal.ValidationError(op, "tenant_id must be a UUID")
	}

	cert, err := s.certs.GetLatestByTenant(ctx, strings.TrimSpace(tenantID), models.FiscalProviderFocusNFe)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fiscal.PersistenceError(op, err)
	}
	return cert, nil
}

// DecryptPassword recovers the passphrase of cert.
func (s *Service) DecryptPassword(_ context.Context, cert *models.FiscalCertificate) (string, error) {
	if cert == nil {
		return "", errors.New("vault: nil certificate")
	}
	return Decrypt(s.ring, Sealed{
		Ciphertext: cert.PasswordCiphertext,
		IV:         cert.PasswordIV,
		Tag:        cert.PasswordTag,
		KeyVersion: cert.KeyVersion,
	})
}

// LoadContainer downloads the stored blob of cert.
func (s *Service) LoadContainer(ctx context.Context, cert *models.FiscalCertificate) ([]byte, error) {
	return s.store.Get(ctx, cert.ObjectKey)
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	switch verrs[0].Field() {
	case "TenantID":
		return "tenant_id must be a UUID"
	case "FileName":
		return "certificate file is required"
	case "Password":
		return "password is required"
	}
	return err.Error()
}
