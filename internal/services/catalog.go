package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"ticketintel/internal/models"
	"ticketintel/pkg/utils"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogFile 规则与标签词表的导入文件
type CatalogFile struct {
	Labels []CatalogLabel `yaml:"labels"`
	Rules  []CatalogRule  `yaml:"rules"`
}

// CatalogLabel 词表条目
type CatalogLabel struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Active   *bool    `yaml:"active"`
}

// CatalogRule 分配规则条目，按名称去重
type CatalogRule struct {
	Name         string  `yaml:"name"`
	Category     *string `yaml:"category"`
	Subcategory  *string `yaml:"subcategory"`
	Area         *string `yaml:"area"`
	TechnicianID uint    `yaml:"technician_id"`
	Priority     int     `yaml:"priority"`
	Active       *bool   `yaml:"active"`
}

// ImportReport 导入统计
type ImportReport struct {
	LabelsUpserted int `json:"labels_upserted"`
	RulesCreated   int `json:"rules_created"`
	RulesUpdated   int `json:"rules_updated"`
}

// ParseCatalog 解析 YAML，未知字段视为错误
func ParseCatalog(data []byte) (*CatalogFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cat CatalogFile
	if err := dec.Decode(&cat); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid catalog file: %v", err), nil)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Validate 名称必填且唯一，规则必须指定技术员
func (c *CatalogFile) Validate() error {
	seen := make(map[string]struct{})
	for i, l := range c.Labels {
		key := models.LabelKey(l.Name)
		if key == "" {
			return NewValidationError("label name is required", map[string]any{"index": i})
		}
		if _, dup := seen[key]; dup {
			return NewValidationError("duplicate label", map[string]any{"label": l.Name})
		}
		seen[key] = struct{}{}
	}
	rules := make(map[string]struct{})
	for i, r := range c.Rules {
		name := utils.CompactSpaces(r.Name)
		if name == "" {
			return NewValidationError("rule name is required", map[string]any{"index": i})
		}
		if _, dup := rules[name]; dup {
			return NewValidationError("duplicate rule", map[string]any{"rule": name})
		}
		rules[name] = struct{}{}
		if r.TechnicianID == 0 {
			return NewValidationError("rule technician_id is required", map[string]any{"rule": name})
		}
	}
	return nil
}

// DefaultCatalog 内置的关键词词表
func DefaultCatalog() *CatalogFile {
	return &CatalogFile{Labels: []CatalogLabel{
		{Name: "Error", Keywords: []string{"error", "fallo"}},
		{Name: "Bug", Keywords: []string{"bug"}},
		{Name: "Caída de servicio", Keywords: []string{"caido", "caída"}},
		{Name: "Rendimiento", Keywords: []string{"lento", "demora"}},
		{Name: "Facturación", Keywords: []string{"factura", "facturación"}},
		{Name: "Pagos", Keywords: []string{"pago", "pagos"}},
		{Name: "Correo", Keywords: []string{"correo", "email", "mail"}},
		{Name: "VPN", Keywords: []string{"vpn"}},
		{Name: "Acceso", Keywords: []string{"acceso", "login"}},
		{Name: "Credenciales", Keywords: []string{"contraseña", "password", "clave"}},
		{Name: "Bloqueo de usuario", Keywords: []string{"bloqueado", "bloqueada"}},
		{Name: "Actualización", Keywords: []string{"actualización", "actualizar"}},
		{Name: "Instalación", Keywords: []string{"instalación", "instalar"}},
	}}
}

// ImportCatalog 在单个事务中 upsert 标签（按名称）与规则（按名称）
func (s *GormStore) ImportCatalog(ctx context.Context, cat *CatalogFile) (*ImportReport, error) {
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	report := &ImportReport{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, l := range cat.Labels {
			label := models.Label{
				Name:     utils.CompactSpaces(l.Name),
				Keywords: strings.Join(l.Keywords, ","),
				Active:   l.Active == nil || *l.Active,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"keywords", "active", "updated_at"}),
			}).Create(&label).Error; err != nil {
				return err
			}
			report.LabelsUpserted++
		}

		for _, r := range cat.Rules {
			rule := models.AssignmentRule{
				Name:         utils.CompactSpaces(r.Name),
				Category:     r.Category,
				Subcategory:  r.Subcategory,
				Area:         r.Area,
				TechnicianID: r.TechnicianID,
				Priority:     r.Priority,
				Active:       r.Active == nil || *r.Active,
			}
			var existing models.AssignmentRule
			err := tx.Where("name = ?", rule.Name).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if err := tx.Create(&rule).Error; err != nil {
					return err
				}
				report.RulesCreated++
			case err != nil:
				return err
			default:
				if err := tx.Model(&existing).Select("category", "subcategory", "area", "technician_id", "priority", "active").
					Updates(&rule).Error; err != nil {
					return err
				}
				report.RulesUpdated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("import catalog", err)
	}
	return report, nil
}
