package records

import (
	"encoding/json"
	"time"

	"github.com/phenoscope/platform/pkg/common/models"
	"gorm.io/datatypes"
)

// RecordModel is the persistence shape of a PatientRecord. Text, codes and
// labs land in JSON columns so the schema survives vocabulary changes.
type RecordModel struct {
	ID          string         `json:"id" gorm:"primaryKey;column:id"`
	PatientID   string         `json:"patient_id" gorm:"column:patient_id;index"`
	Sections    datatypes.JSON `json:"sections" gorm:"column:sections"`
	Diagnoses   datatypes.JSON `json:"diagnoses" gorm:"column:diagnoses"`
	Medications datatypes.JSON `json:"medications" gorm:"column:medications"`
	Labs        datatypes.JSON `json:"labs" gorm:"column:labs"`
	IngestedAt  time.Time      `json:"ingested_at" gorm:"column:ingested_at"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (RecordModel) TableName() string {
	return "patient_records"
}

func toModel(record *models.PatientRecord) (*RecordModel, error) {
	sections, err := json.Marshal(record.Sections)
	if err != nil {
		return nil, err
	}
	diagnoses, err := json.Marshal(record.Diagnoses)
	if err != nil {
		return nil, err
	}
	medications, err := json.Marshal(record.Medications)
	if err != nil {
		return nil, err
	}
	labs, err := json.Marshal(record.Labs)
	if err != nil {
		return nil, err
	}
	return &RecordModel{
		ID:          record.ID,
		PatientID:   record.PatientID,
		Sections:    sections,
		Diagnoses:   diagnoses,
		Medications: medications,
		Labs:        labs,
		IngestedAt:  record.IngestedAt,
	}, nil
}

func toDomain(model *RecordModel) (*models.PatientRecord, error) {
	record := &models.PatientRecord{
		ID:         model.ID,
		PatientID:  model.PatientID,
		IngestedAt: model.IngestedAt,
	}
	if len(model.Sections) > 0 {
		if err := json.Unmarshal(model.Sections, &record.Sections); err != nil {
			return nil, err
		}
	}
	if len(model.Diagnoses) > 0 {
		if err := json.Unmarshal(model.Diagnoses, &record.Diagnoses); err != nil {
			return nil, err
		}
	}
	if len(model.Medications) > 0 {
		if err := json.Unmarshal(model.Medications, &record.Medications); err != nil {
			return nil, err
		}
	}
	if len(model.Labs) > 0 {
		if err := json.Unmarshal(model.Labs, &record.Labs); err != nil {
			return nil, err
		}
	}
	return record, nil
}
