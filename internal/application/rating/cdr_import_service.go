package rating

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainrating "github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/cdrfile"
)

// CDRImportService ingests usage record files uploaded by tenants or
// dropped by switch exporters. Records that fail field validation are
// reported per line; the valid remainder is rated as a normal batch.
type CDRImportService struct {
	ingestion *IngestionService
	logger    *zap.Logger
	maxErrors int
}

// NewCDRImportService creates a file import service on top of the
// ingestion pipeline
func NewCDRImportService(ingestion *IngestionService, logger *zap.Logger) *CDRImportService {
	return &CDRImportService{
		ingestion: ingestion,
		logger:    logger,
		maxErrors: 100,
	}
}

// ImportResult reports one file import run
type ImportResult struct {
	FileName        string
	TotalRecords    int
	Accepted        int
	Rejected        int
	RecordErrors    []cdrfile.RecordError
	ErrorsTruncated bool
	Report          *BatchReport
}

// Import parses a usage record file and rates every valid record under
// the given batch id. File-level problems (encoding, missing columns)
// fail the whole import; per-record problems reject only that record.
func (s *CDRImportService) Import(ctx context.Context, tenantID uuid.UUID, batchID, fileName string, file io.Reader) (*ImportResult, error) {
	reader, err := cdrfile.NewReader(file)
	if err != nil {
		return nil, err
	}
	if err := reader.ReadHeader(); err != nil {
		return nil, err
	}
	if missing := reader.MissingColumns(); len(missing) > 0 {
		return nil, shared.NewDomainError("MISSING_COLUMNS",
			"usage record file missing required columns: "+strings.Join(missing, ", "))
	}

	result := &ImportResult{FileName: fileName}
	errs := cdrfile.NewErrorList(s.maxErrors)
	var events []*domainrating.UsageEvent

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.TotalRecords++
			errs.AddMalformed(reader.Line(), err.Error())
			continue
		}
		if rec.IsEmpty() {
			continue
		}

		result.TotalRecords++
		event, ok := s.buildEvent(tenantID, batchID, rec, errs)
		if !ok {
			continue
		}
		events = append(events, event)
	}

	if result.TotalRecords == 0 {
		return nil, cdrfile.ErrNoRecords
	}

	result.Rejected = result.TotalRecords - len(events)
	result.Accepted = len(events)
	result.RecordErrors = errs.Errors()
	result.ErrorsTruncated = errs.Truncated()

	s.logger.Info("usage record file parsed",
		zap.String("file_name", fileName),
		zap.String("batch_id", batchID),
		zap.Int("total_records", result.TotalRecords),
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected),
	)

	if len(events) > 0 {
		result.Report = s.ingestion.IngestBatch(ctx, batchID, events)
	}

	return result, nil
}

// buildEvent maps one file record onto a usage event. Every field
// failure is recorded; a record is built only when all of them parse.
func (s *CDRImportService) buildEvent(tenantID uuid.UUID, batchID string, rec *cdrfile.Record, errs *cdrfile.ErrorList) (*domainrating.UsageEvent, bool) {
	valid := true

	transactionID := rec.Field(cdrfile.ColTransactionID)
	if transactionID == "" {
		errs.AddRequired(rec.Line, cdrfile.ColTransactionID)
		valid = false
	}

	clientID, err := uuid.Parse(rec.Field(cdrfile.ColClientID))
	if err != nil {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColClientID,
			"client id must be a UUID", rec.Field(cdrfile.ColClientID)))
		valid = false
	}

	usageType := domainrating.UsageType(rec.Field(cdrfile.ColUsageType))
	if !usageType.IsValid() {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColUsageType,
			"unknown usage type", rec.Field(cdrfile.ColUsageType)))
		valid = false
	}

	serviceType := domainrating.ServiceType(rec.Field(cdrfile.ColServiceType))
	if !serviceType.IsValid() || serviceType == domainrating.ServiceTypeAny {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColServiceType,
			"unknown service type", rec.Field(cdrfile.ColServiceType)))
		valid = false
	}

	quantity, err := decimal.NewFromString(rec.Field(cdrfile.ColQuantity))
	if err != nil {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColQuantity,
			"quantity must be a decimal number", rec.Field(cdrfile.ColQuantity)))
		valid = false
	}

	startTime, err := time.Parse(time.RFC3339, rec.Field(cdrfile.ColStartTime))
	if err != nil {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColStartTime,
			"start time must be RFC 3339", rec.Field(cdrfile.ColStartTime)))
		valid = false
	}

	endTime, err := time.Parse(time.RFC3339, rec.Field(cdrfile.ColEndTime))
	if err != nil {
		errs.Add(cdrfile.NewFieldError(rec.Line, cdrfile.ColEndTime,
			"end time must be RFC 3339", rec.Field(cdrfile.ColEndTime)))
		valid = false
	}

	if !valid {
		return nil, false
	}

	event, err := domainrating.NewUsageEvent(transactionID, tenantID, clientID,
		usageType, serviceType, quantity, startTime, endTime)
	if err != nil {
		errs.Add(cdrfile.NewRecordError(rec.Line, "", cdrfile.ErrCodeInvalidField, err.Error()))
		return nil, false
	}

	event.WithBatch(batchID)
	if orig, dest := rec.Field(cdrfile.ColOrigination), rec.Field(cdrfile.ColDestination); orig != "" || dest != "" {
		event.WithGeography(orig, dest)
	}

	return event, true
}
