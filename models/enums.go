package models

// ArticleStatus is the scientific lifecycle axis. It never carries payment
// meaning; that lives on Article.PaymentStatus.
type ArticleStatus string

const (
	StatusDraft            ArticleStatus = "DRAFT"
	StatusSubmitted        ArticleStatus = "SUBMITTED"
	StatusDeskCheck        ArticleStatus = "DESK_CHECK"
	StatusUnderReview      ArticleStatus = "UNDER_REVIEW"
	StatusRevisionRequired ArticleStatus = "REVISION_REQUIRED"
	StatusAccepted         ArticleStatus = "ACCEPTED"
	StatusProduction       ArticleStatus = "PRODUCTION"
	StatusPublished        ArticleStatus = "PUBLISHED"
	StatusRejected         ArticleStatus = "REJECTED"
	StatusArchived         ArticleStatus = "ARCHIVED"
)

// Legacy states kept so historical rows keep displaying. They have no entries
// in the transition table, so they are unreachable and nothing can leave them.
const (
	StatusLegacyReviewersInvited  ArticleStatus = "REVIEWERS_INVITED"
	StatusLegacyRevisedSubmitted  ArticleStatus = "REVISED_SUBMITTED"
	StatusLegacyEditorDecision    ArticleStatus = "EDITOR_DECISION"
	StatusLegacyPaymentPending    ArticleStatus = "PAYMENT_PENDING"
	StatusLegacyPaid              ArticleStatus = "PAID"
	StatusLegacyScheduled         ArticleStatus = "SCHEDULED"
	StatusLegacyCertificateIssued ArticleStatus = "CERTIFICATE_ISSUED"
)

// PaymentStatus is the business lifecycle axis on Article.
type PaymentStatus string

const (
	PaymentStatusNone        PaymentStatus = "NONE"
	PaymentStatusPending     PaymentStatus = "PENDING"
	PaymentStatusPaid        PaymentStatus = "PAID"
	PaymentStatusNotRequired PaymentStatus = "NOT_REQUIRED"
)

type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusFailed    InvoiceStatus = "FAILED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// PaymentRecordStatus is the outcome on an individual provider transaction.
type PaymentRecordStatus string

const (
	PaymentRecordStatusPending   PaymentRecordStatus = "PENDING"
	PaymentRecordStatusCompleted PaymentRecordStatus = "COMPLETED"
	PaymentRecordStatusFailed    PaymentRecordStatus = "FAILED"
	PaymentRecordStatusCancelled PaymentRecordStatus = "CANCELLED"
)

type CertificateStatus string

const (
	CertificateStatusActive  CertificateStatus = "ACTIVE"
	CertificateStatusRevoked CertificateStatus = "REVOKED"
)

type RevisionType string

const (
	RevisionTypeInitial RevisionType = "INITIAL"
	RevisionTypeMinor   RevisionType = "MINOR"
	RevisionTypeMajor   RevisionType = "MAJOR"
)

type Recommendation string

const (
	RecommendationAccept Recommendation = "ACCEPT"
	RecommendationRevise Recommendation = "REVISE"
	RecommendationReject Recommendation = "REJECT"
)

// Role is supplied by the identity collaborator. RoleSystem exists only for
// automatic transitions; no human actor carries it.
type Role string

const (
	RoleAuthor   Role = "AUTHOR"
	RoleReviewer Role = "REVIEWER"
	RoleAdmin    Role = "ADMIN"
	RoleSystem   Role = "SYSTEM"
)

type PaymentProvider string

const (
	ProviderPayme  PaymentProvider = "PAYME"
	ProviderClick  PaymentProvider = "CLICK"
	ProviderPaypal PaymentProvider = "PAYPAL"
	ProviderManual PaymentProvider = "MANUAL"
)

// Audit action tags.
const (
	AuditActionStatusChange       = "STATUS_CHANGE"
	AuditActionArticleSubmitted   = "ARTICLE_SUBMITTED"
	AuditActionArticlePublished   = "ARTICLE_PUBLISHED"
	AuditActionReviewSubmitted    = "REVIEW_SUBMITTED"
	AuditActionInvoiceCreated     = "INVOICE_CREATED"
	AuditActionPaymentConfirmed   = "PAYMENT_CONFIRMED"
	AuditActionPaymentFailed      = "PAYMENT_FAILED"
	AuditActionCertificateIssued  = "CERTIFICATE_ISSUED"
	AuditActionCertificateRevoked = "CERTIFICATE_REVOKED"
	AuditActionAdminOverride      = "ADMIN_OVERRIDE"
)

// Entity type tags on audit rows.
const (
	EntityTypeArticle     = "ARTICLE"
	EntityTypeInvoice     = "INVOICE"
	EntityTypePayment     = "PAYMENT"
	EntityTypeCertificate = "CERTIFICATE"
)
