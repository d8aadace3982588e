package model

import "time"

// Field types accepted for metadata field definitions.
const (
	FieldTypeText   = "text"
	FieldTypeNumber = "number"
	FieldTypeSelect = "select"
	FieldTypeDate   = "date"
)

// MetadataField declares a permissible metadata key. Creating one
// retroactively adds the key (as null) to every stored chunk; deleting
// one strips the key everywhere.
type MetadataField struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FieldKey     string    `gorm:"size:255;not null;uniqueIndex" json:"field_key"`
	FieldLabel   string    `gorm:"size:255;not null" json:"field_label"`
	FieldType    string    `gorm:"size:50;not null;default:text" json:"field_type"`
	FieldOptions JSONMap   `gorm:"type:jsonb" json:"field_options"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (MetadataField) TableName() string {
	return "rag_metadata_fields"
}

func ValidFieldType(fieldType string) bool {
	switch fieldType {
	case FieldTypeText, FieldTypeNumber, FieldTypeSelect, FieldTypeDate:
		return true
	}
	return false
}
