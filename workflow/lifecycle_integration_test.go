package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/openscholar/ujmp_backend/config"
	"bitbucket.org/openscholar/ujmp_backend/models"
	"bitbucket.org/openscholar/ujmp_backend/payment"
	"bitbucket.org/openscholar/ujmp_backend/utils"
)

// settlementChannel is a provider wired the same way Payme and Click are:
// hex HMAC over the raw body, shared settlement payload shape. Registering
// it replaces nothing real, so each test can deliver events deterministically.
const settlementChannelSecret = "lifecycle-test-secret"

type settlementChannel struct{}

func (settlementChannel) Name() models.PaymentProvider { return models.PaymentProvider("TESTPAY") }

func (settlementChannel) InitiatePayment(ctx context.Context, invoice *models.Invoice, returnURL string) (string, error) {
	return "https://pay.test/checkout/" + invoice.InvoiceNumber, nil
}

func (settlementChannel) VerifySignature(rawBody []byte, signature string) bool {
	return payment.VerifyPayload(settlementChannelSecret, rawBody, signature)
}

func (settlementChannel) ParseEvent(rawBody []byte) (*payment.Event, error) {
	return payment.ParseSettlementEvent(rawBody)
}

func signedSettlementEvent(t *testing.T, transactionId, invoiceNumber, status string) (body []byte, signature string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"transaction_id": transactionId,
		"invoice_number": invoiceNumber,
		"status":         status,
	})
	if err != nil {
		t.Fatalf("marshal settlement event: %v", err)
	}
	return body, payment.SignPayload(settlementChannelSecret, body)
}

func startLifecycleStack(t *testing.T) {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "ujmp_test")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	payment.Register(settlementChannel{})
}

func createActor(t *testing.T, role models.Role) (context.Context, *models.User) {
	t.Helper()
	email := fmt.Sprintf("%s-%d@test.local", strings.ToLower(string(role)), time.Now().UnixNano())
	user, err := models.CreateUser(context.Background(), &models.NewUser{
		Email:    email,
		Name:     fmt.Sprintf("Test %s", role),
		Password: "s3cret-pw",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", role, err)
	}
	ctx := utils.SetUserIdInContext(context.Background(), user.ID)
	ctx = utils.SetUserNameInContext(ctx, user.Name)
	ctx = utils.SetUserRoleInContext(ctx, string(role))
	return ctx, user
}

func createAPCJournal(t *testing.T, enabled bool, amount decimal.Decimal) *models.Journal {
	t.Helper()
	journal, err := models.CreateJournal(context.Background(), &models.JournalInput{
		Name:       fmt.Sprintf("Journal of Integration %d", time.Now().UnixNano()),
		ApcEnabled: enabled,
		ApcAmount:  amount,
		Currency:   "USD",
	})
	if err != nil {
		t.Fatalf("CreateJournal: %v", err)
	}
	return journal
}

// acceptedArticle drives a fresh submission through the editorial flow up to
// ACCEPTED: draft, manuscript upload, submit (desk check chains), review,
// acceptance with its invoice side effect.
func acceptedArticle(t *testing.T, authorCtx context.Context, authorId int, adminCtx context.Context, journalId int) *models.Article {
	t.Helper()
	article, err := models.CreateArticle(authorCtx, authorId, &models.NewArticle{
		Title:                  "Adaptive Meshes in Computational Physics",
		Abstract:               "We study adaptive mesh refinement strategies.",
		JournalId:              journalId,
		EthicsDeclaration:      true,
		OriginalityDeclaration: true,
	})
	if err != nil {
		t.Fatalf("CreateArticle: %v", err)
	}
	if _, err := UploadRevision(authorCtx, article.SubmissionId, &RevisionInput{
		ManuscriptObjectKey: "manuscripts/" + article.SubmissionId + "/v1.pdf",
	}); err != nil {
		t.Fatalf("UploadRevision: %v", err)
	}
	a, err := ApplyTransition(authorCtx, article.SubmissionId, ActionSubmit, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.Status != models.StatusDeskCheck {
		t.Fatalf("after submit status=%s, want %s", a.Status, models.StatusDeskCheck)
	}
	if _, err := ApplyTransition(adminCtx, article.SubmissionId, ActionSendToReview, nil); err != nil {
		t.Fatalf("send_to_review: %v", err)
	}
	a, err = ApplyTransition(adminCtx, article.SubmissionId, ActionAccept, nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if a.Status != models.StatusAccepted {
		t.Fatalf("after accept status=%s, want %s", a.Status, models.StatusAccepted)
	}
	return a
}

func TestLifecyclePaymentGateEndToEnd(t *testing.T) {
	startLifecycleStack(t)

	authorCtx, author := createActor(t, models.RoleAuthor)
	adminCtx, _ := createActor(t, models.RoleAdmin)
	journal := createAPCJournal(t, true, decimal.NewFromInt(500))

	article := acceptedArticle(t, authorCtx, author.ID, adminCtx, journal.ID)
	if article.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("payment status after accept=%s, want %s", article.PaymentStatus, models.PaymentStatusPending)
	}

	invoice, err := models.GetInvoiceByArticleId(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("GetInvoiceByArticleId: %v", err)
	}
	if invoice.Status != models.InvoiceStatusPending {
		t.Fatalf("invoice status=%s, want %s", invoice.Status, models.InvoiceStatusPending)
	}
	if !invoice.Amount.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("invoice amount=%s, want 500", invoice.Amount)
	}

	// A comment-less acceptance still records the decision.
	reviews, err := models.ListReviews(context.Background(), article.ID, true)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("got %d reviews after accept, want 1", len(reviews))
	}
	if reviews[0].Recommendation != models.RecommendationAccept {
		t.Errorf("review recommendation=%s, want %s", reviews[0].Recommendation, models.RecommendationAccept)
	}
	if reviews[0].CommentsToAuthor != "Article accepted" {
		t.Errorf("review comment=%q, want the default acceptance comment", reviews[0].CommentsToAuthor)
	}

	// Publication is gated until the invoice settles.
	if _, err := ApplyTransition(adminCtx, article.SubmissionId, ActionPublish, nil); !errors.Is(err, ErrPaymentRequired) {
		t.Fatalf("publish before settlement: err=%v, want ErrPaymentRequired", err)
	}

	paid, err := MarkInvoicePaid(adminCtx, invoice.InvoiceNumber, models.ProviderManual, "BANK-REF-100")
	if err != nil {
		t.Fatalf("MarkInvoicePaid: %v", err)
	}
	if paid.Status != models.InvoiceStatusPaid {
		t.Fatalf("invoice status after settlement=%s, want %s", paid.Status, models.InvoiceStatusPaid)
	}

	published, err := ApplyTransition(adminCtx, article.SubmissionId, ActionPublish, &TransitionParams{
		PublicationUrl: "https://journals.test/articles/1",
	})
	if err != nil {
		t.Fatalf("publish after settlement: %v", err)
	}
	if published.Status != models.StatusPublished {
		t.Fatalf("status=%s, want %s", published.Status, models.StatusPublished)
	}
	if published.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status after publish=%s, want %s", published.PaymentStatus, models.PaymentStatusPaid)
	}

	certs, err := models.ListCertificatesForArticle(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("ListCertificatesForArticle: %v", err)
	}
	if len(certs) != 1 || certs[0].Status != models.CertificateStatusActive {
		t.Fatalf("got %d certificates (first status %v), want one ACTIVE", len(certs), certs)
	}

	db := config.GetDB()
	var jobs int64
	if err := db.Model(&models.CertificateRenderJob{}).Where("certificate_id = ?", certs[0].ID).Count(&jobs).Error; err != nil {
		t.Fatalf("count render jobs: %v", err)
	}
	if jobs != 1 {
		t.Fatalf("got %d render jobs, want 1", jobs)
	}
}

func TestLifecycleNoChargePublishesUngated(t *testing.T) {
	startLifecycleStack(t)

	authorCtx, author := createActor(t, models.RoleAuthor)
	adminCtx, _ := createActor(t, models.RoleAdmin)
	journal := createAPCJournal(t, false, decimal.Zero)

	article := acceptedArticle(t, authorCtx, author.ID, adminCtx, journal.ID)
	if article.PaymentStatus != models.PaymentStatusNotRequired {
		t.Fatalf("payment status=%s, want %s", article.PaymentStatus, models.PaymentStatusNotRequired)
	}
	if _, err := models.GetInvoiceByArticleId(context.Background(), article.ID); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("invoice lookup err=%v, want record not found", err)
	}

	published, err := ApplyTransition(adminCtx, article.SubmissionId, ActionPublish, nil)
	if err != nil {
		t.Fatalf("publish without charge: %v", err)
	}
	if published.Status != models.StatusPublished {
		t.Fatalf("status=%s, want %s", published.Status, models.StatusPublished)
	}
}

func TestWebhookSettlementIdempotence(t *testing.T) {
	startLifecycleStack(t)

	authorCtx, author := createActor(t, models.RoleAuthor)
	adminCtx, _ := createActor(t, models.RoleAdmin)
	journal := createAPCJournal(t, true, decimal.NewFromInt(350))

	article := acceptedArticle(t, authorCtx, author.ID, adminCtx, journal.ID)
	invoice, err := models.GetInvoiceByArticleId(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("GetInvoiceByArticleId: %v", err)
	}

	txnId := fmt.Sprintf("TXN-%d", time.Now().UnixNano())
	body, sig := signedSettlementEvent(t, txnId, invoice.InvoiceNumber, "paid")

	first, err := HandleProviderEvent(context.Background(), "testpay", body, sig)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.AlreadyProcessed {
		t.Fatal("first delivery flagged as already processed")
	}

	// Providers redeliver until acknowledged; replays must not double-book.
	second, err := HandleProviderEvent(context.Background(), "testpay", body, sig)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !second.AlreadyProcessed {
		t.Fatal("second delivery not recognized as a replay")
	}

	db := config.GetDB()
	var paymentRows int64
	if err := db.Model(&models.Payment{}).Where("provider_transaction_id = ?", txnId).Count(&paymentRows).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentRows != 1 {
		t.Fatalf("got %d payment rows for one transaction, want 1", paymentRows)
	}

	settled, err := models.GetArticleBySubmissionId(context.Background(), article.SubmissionId)
	if err != nil {
		t.Fatalf("reload article: %v", err)
	}
	if settled.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status=%s, want %s", settled.PaymentStatus, models.PaymentStatusPaid)
	}
	if settled.Status != models.StatusAccepted {
		t.Fatalf("settlement changed article status to %s", settled.Status)
	}

	// A fresh completed transaction against the already-paid invoice still
	// records the event and leaves an audit trail.
	lateTxnId := txnId + "-LATE"
	lateBody, lateSig := signedSettlementEvent(t, lateTxnId, invoice.InvoiceNumber, "paid")
	late, err := HandleProviderEvent(context.Background(), "testpay", lateBody, lateSig)
	if err != nil {
		t.Fatalf("late delivery: %v", err)
	}
	if late.AlreadyProcessed || late.PaymentId == 0 {
		t.Fatalf("late delivery outcome=%+v, want a fresh payment record", late)
	}
	trail, err := models.GetAuditTrail(context.Background(), models.EntityTypePayment, late.PaymentId)
	if err != nil {
		t.Fatalf("GetAuditTrail: %v", err)
	}
	found := false
	for _, entry := range trail {
		if entry.Action == models.AuditActionPaymentConfirmed {
			found = true
		}
	}
	if !found {
		t.Fatalf("no %s audit entry for a completed event on a paid invoice", models.AuditActionPaymentConfirmed)
	}
}

func TestCertificateRevocationLifecycle(t *testing.T) {
	startLifecycleStack(t)

	authorCtx, author := createActor(t, models.RoleAuthor)
	adminCtx, _ := createActor(t, models.RoleAdmin)
	journal := createAPCJournal(t, false, decimal.Zero)

	article := acceptedArticle(t, authorCtx, author.ID, adminCtx, journal.ID)
	if _, err := ApplyTransition(adminCtx, article.SubmissionId, ActionPublish, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	certs, err := models.ListCertificatesForArticle(context.Background(), article.ID)
	if err != nil || len(certs) != 1 {
		t.Fatalf("certificates after publish: %v (n=%d)", err, len(certs))
	}
	certId := certs[0].CertificateId

	revoked, err := RevokeCertificate(adminCtx, certId, "author affiliation misstated")
	if err != nil {
		t.Fatalf("RevokeCertificate: %v", err)
	}
	if revoked.Status != models.CertificateStatusRevoked || revoked.RevokedAt == nil {
		t.Fatalf("revoked certificate=%+v", revoked)
	}

	if _, err := RevokeCertificate(adminCtx, certId, "again"); !errors.Is(err, ErrAlreadyRevoked) {
		t.Fatalf("second revoke err=%v, want ErrAlreadyRevoked", err)
	}

	verification, err := VerifyCertificate(context.Background(), certId)
	if err != nil {
		t.Fatalf("VerifyCertificate: %v", err)
	}
	if verification.Status != string(models.CertificateStatusRevoked) {
		t.Fatalf("verification status=%s, want REVOKED", verification.Status)
	}

	replacement, err := RegenerateCertificate(adminCtx, article.SubmissionId)
	if err != nil {
		t.Fatalf("RegenerateCertificate: %v", err)
	}
	if replacement.CertificateId == certId {
		t.Fatal("regeneration reused the revoked certificate id")
	}
	if replacement.Status != models.CertificateStatusActive {
		t.Fatalf("replacement status=%s, want ACTIVE", replacement.Status)
	}
}

// A settlement that lands between a transition's read and its commit must
// survive: the transition writes only the columns it owns.
func TestSettlementSurvivesConcurrentTransitionCommit(t *testing.T) {
	startLifecycleStack(t)

	authorCtx, author := createActor(t, models.RoleAuthor)
	adminCtx, _ := createActor(t, models.RoleAdmin)
	journal := createAPCJournal(t, true, decimal.NewFromInt(200))

	article := acceptedArticle(t, authorCtx, author.ID, adminCtx, journal.ID)
	invoice, err := models.GetInvoiceByArticleId(context.Background(), article.ID)
	if err != nil {
		t.Fatalf("GetInvoiceByArticleId: %v", err)
	}

	db := config.GetDB()
	err = db.Transaction(func(tx *gorm.DB) error {
		stale, err := models.GetArticleBySubmissionIdTx(tx, article.SubmissionId)
		if err != nil {
			return err
		}

		// Settles on its own connection and commits while this transaction
		// still holds the snapshot read above.
		if _, err := MarkInvoicePaid(adminCtx, invoice.InvoiceNumber, models.ProviderManual, fmt.Sprintf("RACE-%d", time.Now().UnixNano())); err != nil {
			return err
		}

		stale.Status = models.StatusRejected
		return tx.Model(stale).Updates(scientificAxisUpdates(stale)).Error
	})
	if err != nil {
		t.Fatalf("interleaved commit: %v", err)
	}

	reloaded, err := models.GetArticleBySubmissionId(context.Background(), article.SubmissionId)
	if err != nil {
		t.Fatalf("reload article: %v", err)
	}
	if reloaded.Status != models.StatusRejected {
		t.Fatalf("status=%s, want %s", reloaded.Status, models.StatusRejected)
	}
	if reloaded.PaymentStatus != models.PaymentStatusPaid {
		t.Fatalf("payment status=%s after the transition committed, want %s", reloaded.PaymentStatus, models.PaymentStatusPaid)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("ujmp-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=ujmp_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
