package models

import (
	"log"

	"bitbucket.org/openscholar/ujmp_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{}, &Journal{},
		&Article{}, &ArticleVersion{}, &Review{},
		&Invoice{}, &Payment{},
		&Certificate{}, &CertificateRenderJob{},
		&AuditLog{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
