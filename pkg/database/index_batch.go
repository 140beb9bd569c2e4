// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IndexItem is one stored file awaiting indexing.
type IndexItem struct {
	Meta        *dicom.Metadata
	VolumeID    int64
	StoragePath string
	FileSize    int64
}

// AffectedSeries identifies a series touched by a batch, with everything the
// post-commit hooks (cache eviction, metadata rebuild) need.
type AffectedSeries struct {
	SeriesID    int64
	SeriesUID   string
	StudyID     int64
	StudyUID    string
	CreatedDate time.Time
	VolumeID    int64
}

// IndexResult summarises one committed batch.
type IndexResult struct {
	Inserted     int
	Deduplicated int
	Series       []AffectedSeries
}

// IndexFacadeInterface is the hierarchical bulk-upsert repository. A batch
// commits atomically: patient, study, series upserts, instance dedup+insert
// with the partition key propagated from the series row, then counter
// refresh.
type IndexFacadeInterface interface {
	UpsertBatch(ctx context.Context, items []IndexItem) (*IndexResult, error)
	WithTenant(tenantCode string) IndexFacadeInterface
}

// IndexFacade implements IndexFacadeInterface
type IndexFacade struct {
	BaseFacade
}

func NewIndexFacade() IndexFacadeInterface {
	return &IndexFacade{}
}

func (f *IndexFacade) WithTenant(tenantCode string) IndexFacadeInterface {
	return &IndexFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

// PublicID derives the stable public identifier: SHA-1 of the raw value,
// lowercase hex.
func PublicID(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// StudyPublicID scopes a study UID to its raw patient id, so a colliding
// study UID under a different patient yields a distinct study row.
func StudyPublicID(rawPatientID, studyUID string) string {
	return PublicID(rawPatientID + "|" + studyUID)
}

func (f *IndexFacade) UpsertBatch(ctx context.Context, items []IndexItem) (*IndexResult, error) {
	valid := make([]IndexItem, 0, len(items))
	for _, it := range items {
		if it.Meta != nil {
			valid = append(valid, it)
		}
	}
	result := &IndexResult{}
	if len(valid) == 0 {
		return result, nil
	}

	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patientIDs, err := upsertPatients(tx, valid)
		if err != nil {
			return err
		}
		studies, err := upsertStudies(tx, valid, patientIDs)
		if err != nil {
			return err
		}
		series, err := upsertSeries(tx, valid, studies)
		if err != nil {
			return err
		}
		if err := insertInstances(tx, valid, studies, series, result); err != nil {
			return err
		}
		return refreshCounters(tx, series)
	})
	if err != nil {
		return nil, dal.CheckErr(err, false)
	}
	return result, nil
}

// upsertPatients groups the batch by patient public id and upserts one row
// per group. On conflict the demographic fields merge with a COALESCE
// pattern so a resend with empty fields never erases known values.
func upsertPatients(tx *gorm.DB, items []IndexItem) (map[string]int64, error) {
	groups := map[string]*model.Patient{}
	order := []string{}
	for _, it := range items {
		pid := PublicID(it.Meta.PatientID)
		p, ok := groups[pid]
		if !ok {
			p = &model.Patient{
				PublicID:      pid,
				PatientID:     it.Meta.PatientID,
				IsProvisional: it.Meta.ProvisionalPatient,
			}
			groups[pid] = p
			order = append(order, pid)
		}
		if p.Name == "" {
			p.Name = it.Meta.PatientName
		}
		if p.BirthDate == "" {
			p.BirthDate = it.Meta.PatientBirthDate
		}
		if p.Sex == "" {
			p.Sex = it.Meta.PatientSex
		}
	}

	rows := make([]*model.Patient, 0, len(order))
	for _, pid := range order {
		rows = append(rows, groups[pid])
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "public_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":       gorm.Expr("COALESCE(NULLIF(excluded.name, ''), name)"),
			"birth_date": gorm.Expr("COALESCE(NULLIF(excluded.birth_date, ''), birth_date)"),
			"sex":        gorm.Expr("COALESCE(NULLIF(excluded.sex, ''), sex)"),
			"updated_at": time.Now(),
		}),
	}).Create(&rows).Error
	if err != nil {
		return nil, err
	}

	return selectIDsByPublicID(tx, model.TableNamePatient, order)
}

type studyGroup struct {
	publicID string
	studyUID string
	id       int64
}

// upsertStudies groups by (raw patient id, study UID) and upserts keyed on
// the derived public id, wiring patient_fk from the previous stage.
func upsertStudies(tx *gorm.DB, items []IndexItem, patientIDs map[string]int64) (map[string]*studyGroup, error) {
	groups := map[string]*model.Study{}
	index := map[string]*studyGroup{}
	order := []string{}
	for _, it := range items {
		pub := StudyPublicID(it.Meta.PatientID, it.Meta.StudyUID)
		s, ok := groups[pub]
		if !ok {
			s = &model.Study{
				PublicID:  pub,
				StudyUID:  it.Meta.StudyUID,
				PatientFK: patientIDs[PublicID(it.Meta.PatientID)],
			}
			groups[pub] = s
			index[pub] = &studyGroup{publicID: pub, studyUID: it.Meta.StudyUID}
			order = append(order, pub)
		}
		if s.StudyDate == "" {
			s.StudyDate = it.Meta.StudyDate
		}
		if s.StudyTime == "" {
			s.StudyTime = it.Meta.StudyTime
		}
		if s.Description == "" {
			s.Description = it.Meta.StudyDescription
		}
		if s.AccessionNumber == "" {
			s.AccessionNumber = it.Meta.AccessionNumber
		}
		if s.ReferringPhysician == "" {
			s.ReferringPhysician = it.Meta.ReferringPhysician
		}
	}

	rows := make([]*model.Study, 0, len(order))
	for _, pub := range order {
		rows = append(rows, groups[pub])
	}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "public_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"study_date":          gorm.Expr("COALESCE(NULLIF(excluded.study_date, ''), study_date)"),
			"study_time":          gorm.Expr("COALESCE(NULLIF(excluded.study_time, ''), study_time)"),
			"description":         gorm.Expr("COALESCE(NULLIF(excluded.description, ''), description)"),
			"accession_number":    gorm.Expr("COALESCE(NULLIF(excluded.accession_number, ''), accession_number)"),
			"referring_physician": gorm.Expr("COALESCE(NULLIF(excluded.referring_physician, ''), referring_physician)"),
			"updated_at":          time.Now(),
		}),
	}).Create(&rows).Error
	if err != nil {
		return nil, err
	}

	ids, err := selectIDsByPublicID(tx, model.TableNameStudy, order)
	if err != nil {
		return nil, err
	}
	for pub, g := range index {
		g.id = ids[pub]
	}
	return index, nil
}

type seriesGroup struct {
	seriesID    int64
	seriesUID   string
	studyID     int64
	studyUID    string
	createdDate time.Time
	volumeID    int64
	items       []IndexItem
}

func seriesGroupKey(studyID int64, seriesUID string) string {
	return hex.EncodeToString([]byte(seriesUID)) + "@" + hex.EncodeToString(int64Bytes(studyID))
}

func int64Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// upsertSeries inserts missing series rows and reads back (id, created_at)
// per group. The created_at date is the partition key propagated to every
// instance row of the group.
func upsertSeries(tx *gorm.DB, items []IndexItem, studies map[string]*studyGroup) (map[string]*seriesGroup, error) {
	groups := map[string]*seriesGroup{}
	order := []string{}
	rows := []*model.Series{}
	for _, it := range items {
		study := studies[StudyPublicID(it.Meta.PatientID, it.Meta.StudyUID)]
		key := seriesGroupKey(study.id, it.Meta.SeriesUID)
		g, ok := groups[key]
		if !ok {
			g = &seriesGroup{
				seriesUID: it.Meta.SeriesUID,
				studyID:   study.id,
				studyUID:  study.studyUID,
				volumeID:  it.VolumeID,
			}
			groups[key] = g
			order = append(order, key)
			rows = append(rows, &model.Series{
				SeriesUID:    it.Meta.SeriesUID,
				StudyFK:      study.id,
				Modality:     it.Meta.Modality,
				SeriesNumber: it.Meta.SeriesNumber,
				Description:  it.Meta.SeriesDescription,
				BodyPart:     it.Meta.BodyPart,
				Institution:  it.Meta.Institution,
				StationName:  it.Meta.StationName,
				SendingAET:   it.Meta.SendingAET,
				CreatedAt:    time.Now(),
			})
		}
		g.items = append(g.items, it)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "study_fk"}, {Name: "series_uid"}},
		DoNothing: true,
	}).Create(&rows).Error
	if err != nil {
		return nil, err
	}

	// read back ids and creation dates; an insert skipped by the conflict
	// clause keeps the original row's created_at
	for _, key := range order {
		g := groups[key]
		row := &model.Series{}
		err := tx.Where("study_fk = ? AND series_uid = ?", g.studyID, g.seriesUID).
			First(row).Error
		if err != nil {
			return nil, err
		}
		g.seriesID = row.ID
		g.createdDate = TruncateToDate(row.CreatedAt)
	}
	return groups, nil
}

// insertInstances dedups each series group against the existing SOP UID set
// of its (series_fk, created_date) partition slice and batch-inserts the
// remainder under the series' created date.
func insertInstances(tx *gorm.DB, items []IndexItem, studies map[string]*studyGroup, series map[string]*seriesGroup, result *IndexResult) error {
	ids, err := allocateInstanceIDs(tx, len(items))
	if err != nil {
		return err
	}
	for _, g := range series {
		var existing []string
		err := tx.Model(&model.Instance{}).
			Where("series_fk = ? AND created_date = ?", g.seriesID, g.createdDate).
			Pluck("sop_instance_uid", &existing).Error
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, sop := range existing {
			seen[sop] = true
		}

		var rows []*model.Instance
		for _, it := range g.items {
			if seen[it.Meta.SOPInstanceUID] {
				result.Deduplicated++
				continue
			}
			seen[it.Meta.SOPInstanceUID] = true
			rows = append(rows, &model.Instance{
				ID:                ids[0],
				CreatedDate:       g.createdDate,
				SOPInstanceUID:    it.Meta.SOPInstanceUID,
				SOPClassUID:       it.Meta.SOPClassUID,
				InstanceNumber:    it.Meta.InstanceNumber,
				TransferSyntaxUID: it.Meta.TransferSyntaxUID,
				NumFrames:         it.Meta.NumberOfFrames,
				FileSize:          it.FileSize,
				VolumeID:          it.VolumeID,
				StoragePath:       it.StoragePath,
				SeriesFK:          g.seriesID,
				SeriesUID:         g.seriesUID,
				StudyUID:          g.studyUID,
				CreatedAt:         time.Now(),
			})
			ids = ids[1:]
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
			result.Inserted += len(rows)
		}
		result.Series = append(result.Series, AffectedSeries{
			SeriesID:    g.seriesID,
			SeriesUID:   g.seriesUID,
			StudyID:     g.studyID,
			StudyUID:    g.studyUID,
			CreatedDate: g.createdDate,
			VolumeID:    g.volumeID,
		})
	}
	return nil
}

// allocateInstanceIDs reserves a block of instance ids up front. The
// composite primary key (id, created_date) rules out a column-level
// autoincrement, and MAX(id)+1 is unsafe across partitions: two concurrent
// batches landing on different partitions would both commit the same id
// without ever tripping the key. On Postgres the ids come from the tenant
// schema's instance_id_seq; dedup gaps in the block are harmless. SQLite
// (tests, single writer) keeps the MAX(id) fallback.
func allocateInstanceIDs(tx *gorm.DB, n int) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	if tx.Dialector.Name() == "postgres" {
		var ids []int64
		err := tx.Raw("SELECT nextval('instance_id_seq') FROM generate_series(1, ?)", n).Scan(&ids).Error
		return ids, err
	}
	var maxID int64
	err := tx.Model(&model.Instance{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxID).Error
	if err != nil {
		return nil, err
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = maxID + int64(i) + 1
	}
	return ids, nil
}

// refreshCounters recomputes the per-series and per-study aggregates for
// every series the batch touched.
func refreshCounters(tx *gorm.DB, series map[string]*seriesGroup) error {
	studyIDs := map[int64]bool{}
	for _, g := range series {
		var agg struct {
			Count int
			Size  int64
		}
		err := tx.Model(&model.Instance{}).
			Select("COUNT(*) AS count, COALESCE(SUM(file_size), 0) AS size").
			Where("series_fk = ? AND created_date = ?", g.seriesID, g.createdDate).
			Scan(&agg).Error
		if err != nil {
			return err
		}
		err = tx.Model(&model.Series{}).
			Where("id = ?", g.seriesID).
			Updates(map[string]interface{}{
				"num_instances": agg.Count,
				"series_size":   agg.Size,
			}).Error
		if err != nil {
			return err
		}
		studyIDs[g.studyID] = true
	}

	for studyID := range studyIDs {
		var agg struct {
			NumSeries    int
			NumInstances int
			Size         int64
		}
		err := tx.Model(&model.Series{}).
			Select("COUNT(*) AS num_series, COALESCE(SUM(num_instances), 0) AS num_instances, COALESCE(SUM(series_size), 0) AS size").
			Where("study_fk = ?", studyID).
			Scan(&agg).Error
		if err != nil {
			return err
		}
		err = tx.Model(&model.Study{}).
			Where("id = ?", studyID).
			Updates(map[string]interface{}{
				"num_series":    agg.NumSeries,
				"num_instances": agg.NumInstances,
				"study_size":    agg.Size,
			}).Error
		if err != nil {
			return err
		}
	}

	// patient study counters
	var patientIDs []int64
	if err := tx.Model(&model.Study{}).
		Where("id IN ?", keysOf(studyIDs)).
		Distinct().
		Pluck("patient_fk", &patientIDs).Error; err != nil {
		return err
	}
	for _, pid := range patientIDs {
		err := tx.Model(&model.Patient{}).
			Where("id = ?", pid).
			Update("num_studies", tx.Session(&gorm.Session{NewDB: true}).
				Model(&model.Study{}).
				Select("COUNT(*)").
				Where("patient_fk = ?", pid)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func keysOf(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func selectIDsByPublicID(tx *gorm.DB, table string, publicIDs []string) (map[string]int64, error) {
	var rows []struct {
		ID       int64
		PublicID string
	}
	err := tx.Table(table).
		Select("id, public_id").
		Where("public_id IN ?", publicIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.PublicID] = r.ID
	}
	return out, nil
}
