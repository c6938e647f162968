package mysql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/timmyforddigitals-cell/sqsp-klaviyo/internal/ledger"
)

// 台账快照固定行名（单店铺部署只有一行）
const defaultSnapshotName = "processed_orders"

// LedgerSnapshot 台账快照实体
type LedgerSnapshot struct {
	Name      string         `gorm:"column:name;primaryKey;type:varchar(64)"`
	Content   datatypes.JSON `gorm:"column:content;type:json;not null"`
	Revision  int64          `gorm:"column:revision;not null;default:0"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (LedgerSnapshot) TableName() string {
	return "ledger_snapshots"
}

// LedgerDAO 台账数据访问对象（乐观并发：revision 计数列 CAS）
type LedgerDAO struct {
	db   *gorm.DB
	name string
}

// NewLedgerDAO 创建 LedgerDAO 实例
func NewLedgerDAO(dsn string) (*LedgerDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &LedgerDAO{
		db:   db,
		name: defaultSnapshotName,
	}, nil
}

// Read 读取台账快照，返回内容和 revision 令牌
func (dao *LedgerDAO) Read(ctx context.Context) ([]byte, string, error) {
	var snap LedgerSnapshot
	result := dao.db.WithContext(ctx).Where("name = ?", dao.name).First(&snap)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, "", ledger.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read ledger snapshot: %w", result.Error)
	}
	return []byte(snap.Content), strconv.FormatInt(snap.Revision, 10), nil
}

// Write 写入台账快照
// expectedRevision 为空表示首次创建；否则执行 CAS 更新，版本不匹配返回冲突
func (dao *LedgerDAO) Write(ctx context.Context, content []byte, expectedRevision string) (string, error) {
	if expectedRevision == "" {
		snap := LedgerSnapshot{
			Name:      dao.name,
			Content:   datatypes.JSON(content),
			Revision:  1,
			UpdatedAt: time.Now(),
		}
		if err := dao.db.WithContext(ctx).Create(&snap).Error; err != nil {
			// 主键冲突说明他方已创建，视为版本冲突
			return "", fmt.Errorf("%w: %v", ledger.ErrRevisionConflict, err)
		}
		return "1", nil
	}

	expected, err := strconv.ParseInt(expectedRevision, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid revision token %q: %w", expectedRevision, err)
	}

	result := dao.db.WithContext(ctx).
		Model(&LedgerSnapshot{}).
		Where("name = ? AND revision = ?", dao.name, expected).
		Updates(map[string]interface{}{
			"content":    datatypes.JSON(content),
			"revision":   expected + 1,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return "", fmt.Errorf("failed to update ledger snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ledger.ErrRevisionConflict
	}

	return strconv.FormatInt(expected+1, 10), nil
}

// Close 关闭数据库连接
func (dao *LedgerDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
