package database

import (
	"log"

	"backend/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate core models
	err = db.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.Role{},
		&model.Permission{},
		&model.Group{},
		&model.GroupMember{},
		&model.Project{},
		&model.ProjectMember{},
		&model.ProtectedBranch{},
		&model.MergeRequest{},
		&model.MergeRequestCommit{},
		&model.Approval{},
		&model.ApprovalRule{},
		&model.ScanResultPolicyRead{},
		&model.PolicyViolation{},
		&model.AuditLog{},
	)
	if err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	return db, nil
}
