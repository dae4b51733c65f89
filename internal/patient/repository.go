package patient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a patient does not exist in the repository.
var ErrNotFound = errors.New("patient not found")

// Repository provides read access to the patient database.
type Repository interface {
	GetByID(ctx context.Context, patientID string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
}

type postgresRepo struct {
	db *sql.DB
}

// NewRepository returns a Postgres-backed patient repository.
func NewRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

func (r *postgresRepo) GetByID(ctx context.Context, patientID string) (*Record, error) {
	query := `SELECT patient_id, name, last_visit, status, medical_history, current_medications, age, symptoms, follow_up_reason FROM patients WHERE patient_id = $1`

	row := r.db.QueryRowContext(ctx, query, patientID)
	rec, err := scanRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *postgresRepo) List(ctx context.Context) ([]Record, error) {
	query := `SELECT patient_id, name, last_visit, status, medical_history, current_medications, age, symptoms, follow_up_reason FROM patients ORDER BY patient_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var historyJSON, medsJSON, symptomsJSON []byte
	var age sql.NullInt64
	var reason sql.NullString

	err := scan(
		&rec.PatientID,
		&rec.Name,
		&rec.LastVisit,
		&rec.Status,
		&historyJSON,
		&medsJSON,
		&age,
		&symptomsJSON,
		&reason,
	)
	if err != nil {
		return nil, err
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &rec.MedicalHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal medical_history: %w", err)
		}
	}
	if len(medsJSON) > 0 {
		if err := json.Unmarshal(medsJSON, &rec.CurrentMedications); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current_medications: %w", err)
		}
	}
	if len(symptomsJSON) > 0 {
		if err := json.Unmarshal(symptomsJSON, &rec.Symptoms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symptoms: %w", err)
		}
	}
	if age.Valid {
		rec.Age = int(age.Int64)
	}
	if reason.Valid {
		rec.FollowUpReason = reason.String
	}
	return &rec, nil
}

type memoryRepo struct {
	mu       sync.RWMutex
	patients map[string]Record
}

// NewMemoryRepository returns an in-memory patient repository seeded with
// demo patients. It is used when no patient database is configured.
func NewMemoryRepository() Repository {
	repo := &memoryRepo{patients: make(map[string]Record)}
	for _, p := range seedPatients() {
		repo.patients[p.PatientID] = p
	}
	return repo
}

func (r *memoryRepo) GetByID(_ context.Context, patientID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.patients[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (r *memoryRepo) List(_ context.Context) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]Record, 0, len(r.patients))
	for _, rec := range r.patients {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].PatientID < records[j].PatientID })
	return records, nil
}

func seedPatients() []Record {
	return []Record{
		{
			PatientID:          "PAT001",
			Name:               "John Smith",
			LastVisit:          "2024-01-10",
			Status:             "active",
			MedicalHistory:     []string{"Diabetes Type 2", "Hypertension"},
			CurrentMedications: []string{"Metformin", "Lisinopril"},
			Symptoms:           []string{"blurred vision", "fatigue"},
			Age:                45,
			FollowUpReason:     "diabetes_management",
		},
		{
			PatientID:          "PAT002",
			Name:               "Sarah Johnson",
			LastVisit:          "2024-01-08",
			Status:             "active",
			MedicalHistory:     []string{"Diabetes Type 1", "Diabetic Retinopathy"},
			CurrentMedications: []string{"Insulin", "Metformin"},
			Symptoms:           []string{"vision problems", "numbness"},
			Age:                38,
		},
		{
			PatientID:          "PAT003",
			Name:               "Michael Chen",
			LastVisit:          "2024-01-05",
			Status:             "active",
			MedicalHistory:     []string{"Heart Disease", "High Cholesterol"},
			CurrentMedications: []string{"Atorvastatin", "Aspirin"},
			Symptoms:           []string{"chest pain", "shortness of breath"},
			Age:                52,
		},
		{
			PatientID:          "PAT004",
			Name:               "Elena Rodriguez",
			LastVisit:          "2024-01-12",
			Status:             "active",
			MedicalHistory:     []string{"Depression", "Anxiety"},
			CurrentMedications: []string{"Sertraline", "Lorazepam"},
			Symptoms:           []string{"mood changes", "sleep problems"},
			Age:                29,
		},
	}
}
