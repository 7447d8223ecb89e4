// Package domain file: internal/core/domain/mapping_models.go
package domain

// 字段转换类型
const (
	ConversionInt      = "int"
	ConversionFloat    = "float"
	ConversionString   = "string"
	ConversionBoolean  = "boolean"
	ConversionDatetime = "datetime"
)

// 代码映射类型
const (
	MappingTypeEquipment   = "equipment"
	MappingTypeMeasurement = "measurement"
)

// FieldMapping 描述单个目标字段如何从后端原始字段得到。
// (DataSourceID, DataType, TargetField) 唯一。
type FieldMapping struct {
	ID                uint    `gorm:"primaryKey" json:"id"`
	DataSourceID      string  `gorm:"column:data_source_id;uniqueIndex:uq_field_mapping_target" json:"data_source_id"`
	DataType          string  `gorm:"column:data_type;uniqueIndex:uq_field_mapping_target" json:"data_type"`
	SourceField       string  `gorm:"column:source_field" json:"source_field"`
	TargetField       string  `gorm:"column:target_field;uniqueIndex:uq_field_mapping_target" json:"target_field"`
	Conversion        string  `gorm:"column:conversion" json:"conversion,omitempty"`
	TransformFunction string  `gorm:"column:transform_function" json:"transform_function,omitempty"`
	DefaultValue      *string `gorm:"column:default_value" json:"default_value,omitempty"`
	IsRequired        bool    `gorm:"column:is_required" json:"is_required"`
}

func (FieldMapping) TableName() string { return "field_mappings" }

// TransformRules 是代码映射附带的数值变换规则。
// 固定顺序：缩放 -> 偏移 -> 单位换算 -> 取整。
type TransformRules struct {
	Scale    *float64 `json:"scale,omitempty"`
	Offset   *float64 `json:"offset,omitempty"`
	FromUnit string   `json:"from_unit,omitempty"`
	ToUnit   string   `json:"to_unit,omitempty"`
	Decimals *int     `json:"decimals,omitempty"`
}

// IsZero 判断规则是否为空。
func (r *TransformRules) IsZero() bool {
	return r == nil || (r.Scale == nil && r.Offset == nil && r.FromUnit == "" && r.ToUnit == "" && r.Decimals == nil)
}

// CodeMapping 把后端的设备/测点编码翻译为规范编码。
type CodeMapping struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	WorkspaceID    string          `gorm:"column:workspace_id;index" json:"workspace_id"`
	DataSourceID   string          `gorm:"column:data_source_id;index" json:"data_source_id"`
	MappingType    string          `gorm:"column:mapping_type" json:"mapping_type"`
	SourceCode     string          `gorm:"column:source_code" json:"source_code"`
	TargetCode     string          `gorm:"column:target_code" json:"target_code"`
	TransformRules *TransformRules `gorm:"column:transform_rules;serializer:json" json:"transform_rules,omitempty"`
}

func (CodeMapping) TableName() string { return "code_mappings" }

// StatusMapping 是工作区级别的状态覆盖表。
type StatusMapping struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	WorkspaceID  string `gorm:"column:workspace_id;index" json:"workspace_id"`
	SourceStatus string `gorm:"column:source_status" json:"source_status"`
	TargetStatus string `gorm:"column:target_status" json:"target_status"`
}

func (StatusMapping) TableName() string { return "status_mappings" }

// EndpointMapping 定义 REST 数据源中某数据类型对应的路径、方法和响应提取路径。
type EndpointMapping struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	DataSourceID string `gorm:"column:data_source_id;index" json:"data_source_id"`
	DataType     string `gorm:"column:data_type" json:"data_type" yaml:"data_type"`
	Path         string `gorm:"column:path" json:"path" yaml:"path"`
	Method       string `gorm:"column:method" json:"method" yaml:"method"`
	ResponsePath string `gorm:"column:response_path" json:"response_path" yaml:"response_path"`
}

func (EndpointMapping) TableName() string { return "endpoint_mappings" }
