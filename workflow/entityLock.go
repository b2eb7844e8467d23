package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// Per-entity serialization uses MySQL advisory locks. The lock is
// connection-scoped, so Acquire and Release must run on the same pinned
// connection as the transaction they protect; callers wrap the whole
// sequence in db.Connection and release only after the transaction has
// committed or rolled back.

const entityLockTimeoutSeconds = 30

func acquireEntityLock(conn *gorm.DB, lockName string) error {
	var got int
	if err := conn.Raw("SELECT GET_LOCK(?, ?)", lockName, entityLockTimeoutSeconds).Scan(&got).Error; err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockName, err)
	}
	if got != 1 {
		return fmt.Errorf("acquire lock %s: timed out after %ds", lockName, entityLockTimeoutSeconds)
	}
	return nil
}

func releaseEntityLock(conn *gorm.DB, lockName string) {
	var released int
	// Best effort: the lock dies with the connection anyway.
	conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released)
}

// AcquireArticleLock serializes all workflow mutations of one article.
func AcquireArticleLock(conn *gorm.DB, submissionId string) error {
	return acquireEntityLock(conn, articleLockName(submissionId))
}

func ReleaseArticleLock(conn *gorm.DB, submissionId string) {
	releaseEntityLock(conn, articleLockName(submissionId))
}

func articleLockName(submissionId string) string {
	return fmt.Sprintf("ujmp:article:%s", submissionId)
}

// AcquireInvoiceLock serializes ledger mutations of one invoice, covering
// concurrent webhook deliveries and manual confirmations.
func AcquireInvoiceLock(conn *gorm.DB, invoiceNumber string) error {
	return acquireEntityLock(conn, invoiceLockName(invoiceNumber))
}

func ReleaseInvoiceLock(conn *gorm.DB, invoiceNumber string) {
	releaseEntityLock(conn, invoiceLockName(invoiceNumber))
}

func invoiceLockName(invoiceNumber string) string {
	return fmt.Sprintf("ujmp:invoice:%s", invoiceNumber)
}
