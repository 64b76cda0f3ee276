package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/facture_backend/config"
	"bitbucket.org/mmdatafocus/facture_backend/models"
	"bitbucket.org/mmdatafocus/facture_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Integration tests for the numbering authority. They exercise the real
// locking path: redislock across processes plus the FOR UPDATE row lock
// inside the transaction.
//
// - Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run Numbering -v

func setupIntegrationEnv(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "facture_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetBusinessIdInContext(ctx, uuid.NewString())
	return ctx
}

func createTestSeries(t *testing.T, ctx context.Context) *models.InvoiceNumberSeries {
	t.Helper()
	series, err := models.CreateInvoiceNumberSeries(ctx, &models.NewInvoiceNumberSeries{
		Prefix:         "FA",
		IncludeYear:    utils.NewTrue(),
		YearFormat:     models.YearFormatFull,
		SequenceDigits: 5,
		Separator:      "-",
	})
	if err != nil {
		t.Fatalf("CreateInvoiceNumberSeries: %v", err)
	}
	return series
}

// issueWithRetry retries on lock contention; ErrSeriesLocked is the
// documented retryable outcome under concurrent issuance.
func issueWithRetry(ctx context.Context) (*models.IssuedNumber, error) {
	for {
		issued, err := models.IssueNextInvoiceNumber(ctx)
		if err == models.ErrSeriesLocked {
			time.Sleep(25 * time.Millisecond)
			continue
		}
		return issued, err
	}
}

func TestNumbering_SeriesNotConfigured(t *testing.T) {
	ctx := setupIntegrationEnv(t)

	if _, err := models.IssueNextInvoiceNumber(ctx); err != models.ErrSeriesNotConfigured {
		t.Fatalf("expected ErrSeriesNotConfigured, got %v", err)
	}
}

func TestNumbering_ConcurrentIssuanceIsGapless(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	createTestSeries(t, ctx)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan *models.IssuedNumber, workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			issued, err := issueWithRetry(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- issued
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent issue: %v", err)
	}

	seen := make(map[int64]string, workers)
	for issued := range results {
		if prev, ok := seen[issued.SequenceNo]; ok {
			t.Fatalf("sequence %d issued twice: %s and %s", issued.SequenceNo, prev, issued.InvoiceNumber)
		}
		seen[issued.SequenceNo] = issued.InvoiceNumber
	}
	for n := int64(1); n <= workers; n++ {
		if _, ok := seen[n]; !ok {
			t.Fatalf("gap in issued sequences: %d missing (got %v)", n, seen)
		}
	}

	series, err := models.GetInvoiceNumberSeries(ctx)
	if err != nil {
		t.Fatalf("GetInvoiceNumberSeries: %v", err)
	}
	if series.NextNumber != workers+1 {
		t.Fatalf("expected next_number=%d, got %d", workers+1, series.NextNumber)
	}
}

func TestNumbering_YearRollover(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	series := createTestSeries(t, ctx)

	// simulate a counter left over from last year
	lastYear := time.Now().Year() - 1
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(series).Updates(map[string]interface{}{
		"CurrentYear": lastYear,
		"NextNumber":  int64(42),
	}).Error; err != nil {
		t.Fatalf("seed last-year counter: %v", err)
	}

	first, err := models.IssueNextInvoiceNumber(ctx)
	if err != nil {
		t.Fatalf("IssueNextInvoiceNumber: %v", err)
	}
	if first.SequenceNo != 1 || first.Year != time.Now().Year() {
		t.Fatalf("expected sequence 1 in year %d after rollover, got %d in %d",
			time.Now().Year(), first.SequenceNo, first.Year)
	}
	want := fmt.Sprintf("FA-%d-00001", first.Year)
	if first.InvoiceNumber != want {
		t.Fatalf("expected %s, got %s", want, first.InvoiceNumber)
	}

	second, err := models.IssueNextInvoiceNumber(ctx)
	if err != nil {
		t.Fatalf("IssueNextInvoiceNumber: %v", err)
	}
	if second.SequenceNo != 2 {
		t.Fatalf("expected sequence 2 after rollover, got %d", second.SequenceNo)
	}
}

func compliantInvoiceInput() *models.NewInvoice {
	invoiceDate := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dueDate := invoiceDate.AddDate(0, 1, 0)
	return &models.NewInvoice{
		OperationType:   "Goods",
		InvoiceDate:     &invoiceDate,
		DueDate:         &dueDate,
		IssuerName:      "Acme SARL",
		IssuerSiret:     "40355025000019",
		IssuerAddress:   "1 rue de la Paix, 75002 Paris",
		CustomerName:    "Client SA",
		CustomerAddress: "9 avenue Victor Hugo, 69006 Lyon",
		Details: []models.NewInvoiceDetail{
			{DetailName: "Widget", DetailQty: dec("1"), DetailUnitRate: dec("100"), DetailVatRate: dec("20")},
			{DetailName: "Gadget", DetailQty: dec("1"), DetailUnitRate: dec("50"), DetailVatRate: dec("10")},
		},
	}
}

func TestNumbering_ValidateAndNumberInvoice(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	createTestSeries(t, ctx)

	input := compliantInvoiceInput()
	invoice, err := models.CreateInvoice(ctx, input)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.CurrentStatus != models.InvoiceStatusDraft || invoice.InvoiceNumber != "" {
		t.Fatalf("new invoice should be an unnumbered draft, got %s %q", invoice.CurrentStatus, invoice.InvoiceNumber)
	}
	if !invoice.InvoiceTotalAmount.Equal(dec("175.00")) {
		t.Fatalf("expected total 175.00, got %s", invoice.InvoiceTotalAmount)
	}

	numbered, result, err := models.ValidateAndNumberInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("ValidateAndNumberInvoice: %v (result %+v)", err, result)
	}
	if numbered.CurrentStatus != models.InvoiceStatusValidated {
		t.Fatalf("expected Validated, got %s", numbered.CurrentStatus)
	}
	if numbered.SequenceNo != 1 {
		t.Fatalf("expected sequence 1, got %d", numbered.SequenceNo)
	}
	want := fmt.Sprintf("FA-%d-00001", time.Now().Year())
	if numbered.InvoiceNumber != want {
		t.Fatalf("expected %s, got %s", want, numbered.InvoiceNumber)
	}

	// a validated invoice is immutable
	if _, err := models.UpdateInvoice(ctx, invoice.ID, input); err != models.ErrInvoiceImmutable {
		t.Fatalf("expected ErrInvoiceImmutable, got %v", err)
	}
	// and cannot be validated twice
	if _, _, err := models.ValidateAndNumberInvoice(ctx, invoice.ID); err != models.ErrInvalidStatusTransition {
		t.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}

	logs, err := models.GetInvoiceAuditLogs(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoiceAuditLogs: %v", err)
	}
	if len(logs) < 3 {
		t.Fatalf("expected created+numbered+validated audit entries, got %d", len(logs))
	}

	// the persisted per-rate breakdown must reconcile with the document totals
	summaries, err := models.GetInvoiceTaxSummaries(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoiceTaxSummaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 tax summary rows, got %+v", summaries)
	}
	if !summaries[0].VatRate.Equal(dec("20")) || !summaries[0].TaxableBase.Equal(dec("100.00")) ||
		!summaries[0].VatAmount.Equal(dec("20.00")) || !summaries[0].TotalAmount.Equal(dec("120.00")) {
		t.Fatalf("rate-20 row: got %+v", summaries[0])
	}
	if !summaries[1].VatRate.Equal(dec("10")) || !summaries[1].TaxableBase.Equal(dec("50.00")) ||
		!summaries[1].VatAmount.Equal(dec("5.00")) || !summaries[1].TotalAmount.Equal(dec("55.00")) {
		t.Fatalf("rate-10 row: got %+v", summaries[1])
	}
	var base, vat, total decimal.Decimal
	for _, summary := range summaries {
		base = base.Add(summary.TaxableBase)
		vat = vat.Add(summary.VatAmount)
		total = total.Add(summary.TotalAmount)
	}
	if !base.Equal(numbered.InvoiceSubtotal) || !vat.Equal(numbered.InvoiceTotalVatAmount) || !total.Equal(numbered.InvoiceTotalAmount) {
		t.Fatalf("summaries do not reconcile: base=%s vat=%s total=%s invoice=%s/%s/%s",
			base, vat, total, numbered.InvoiceSubtotal, numbered.InvoiceTotalVatAmount, numbered.InvoiceTotalAmount)
	}
}

// TestNumbering_ConcurrentValidationNumbersOnce races several validations of
// the same draft. The Draft gate must hold on the row as locked inside the
// transaction, so exactly one caller numbers the invoice and the rest see a
// rejected transition. A stale pre-transaction snapshot would let two
// callers through and the second would overwrite the permanent number.
func TestNumbering_ConcurrentValidationNumbersOnce(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	createTestSeries(t, ctx)

	invoice, err := models.CreateInvoice(ctx, compliantInvoiceInput())
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, _, err := models.ValidateAndNumberInvoice(ctx, invoice.ID)
				if err == models.ErrSeriesLocked {
					time.Sleep(25 * time.Millisecond)
					continue
				}
				errs <- err
				return
			}
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch err {
		case nil:
			succeeded++
		case models.ErrInvalidStatusTransition:
			rejected++
		default:
			t.Fatalf("concurrent validation: %v", err)
		}
	}
	if succeeded != 1 || rejected != workers-1 {
		t.Fatalf("expected exactly one validation to win, got %d wins / %d rejections", succeeded, rejected)
	}

	numbered, err := models.GetInvoice(ctx, invoice.ID)
	if err != nil {
		t.Fatalf("GetInvoice: %v", err)
	}
	if numbered.SequenceNo != 1 {
		t.Fatalf("expected sequence 1, got %d (number %s)", numbered.SequenceNo, numbered.InvoiceNumber)
	}

	series, err := models.GetInvoiceNumberSeries(ctx)
	if err != nil {
		t.Fatalf("GetInvoiceNumberSeries: %v", err)
	}
	if series.NextNumber != 2 {
		t.Fatalf("expected next_number=2 after a single issuance, got %d", series.NextNumber)
	}
}

func TestNumbering_NonCompliantDraftBurnsNoSequence(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	createTestSeries(t, ctx)

	invoiceDate := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	dueDate := invoiceDate.AddDate(0, 1, 0)
	input := &models.NewInvoice{
		OperationType:   "Goods",
		InvoiceDate:     &invoiceDate,
		DueDate:         &dueDate,
		IssuerName:      "Acme SARL",
		IssuerSiret:     "40355025000018", // bad checksum
		IssuerAddress:   "1 rue de la Paix, 75002 Paris",
		CustomerName:    "Client SA",
		CustomerAddress: "9 avenue Victor Hugo, 69006 Lyon",
		Details: []models.NewInvoiceDetail{
			{DetailName: "Widget", DetailQty: dec("1"), DetailUnitRate: dec("100"), DetailVatRate: dec("20")},
		},
	}

	invoice, err := models.CreateInvoice(ctx, input)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	_, result, err := models.ValidateAndNumberInvoice(ctx, invoice.ID)
	if err != models.ErrInvoiceNotCompliant {
		t.Fatalf("expected ErrInvoiceNotCompliant, got %v", err)
	}
	if result == nil || result.IsValid {
		t.Fatalf("expected an invalid validation result, got %+v", result)
	}

	series, err := models.GetInvoiceNumberSeries(ctx)
	if err != nil {
		t.Fatalf("GetInvoiceNumberSeries: %v", err)
	}
	if series.NextNumber != 1 {
		t.Fatalf("failed validation consumed a sequence: next_number=%d", series.NextNumber)
	}
}

func TestNumbering_SequenceAuditFindsGaps(t *testing.T) {
	ctx := setupIntegrationEnv(t)
	createTestSeries(t, ctx)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)

	year := time.Now().Year()
	db := config.GetDB()
	// seed issued invoices 1, 2, 2 and 4: sequence 3 is a gap and 2 a duplicate
	for _, n := range []int64{1, 2, 2, 4} {
		invoice := models.Invoice{
			BusinessId:    businessId,
			InvoiceNumber: fmt.Sprintf("FA-%d-%05d", year, n),
			SequenceNo:    n,
			SequenceYear:  year,
			CurrentStatus: models.InvoiceStatusValidated,
		}
		if err := db.WithContext(ctx).Create(&invoice).Error; err != nil {
			t.Fatalf("seed invoice %d: %v", n, err)
		}
	}

	correlationId, err := models.RunSequenceAuditChecks(ctx)
	if err != nil {
		t.Fatalf("RunSequenceAuditChecks: %v", err)
	}

	reports, err := models.GetReconciliationReports(ctx, correlationId)
	if err != nil {
		t.Fatalf("GetReconciliationReports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected gap and duplicate findings, got %+v", reports)
	}
	byType := make(map[string]string, len(reports))
	for _, report := range reports {
		byType[report.CheckType] = report.EntityId
	}
	if byType[models.CheckTypeSequenceGap] != fmt.Sprintf("%d/3", year) {
		t.Fatalf("expected gap finding for sequence 3, got %+v", byType)
	}
	if byType[models.CheckTypeSequenceDuplicate] != fmt.Sprintf("%d/2", year) {
		t.Fatalf("expected duplicate finding for sequence 2, got %+v", byType)
	}

	f, err := models.ExportSequenceAuditExcel(ctx)
	if err != nil {
		t.Fatalf("ExportSequenceAuditExcel: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(fmt.Sprintf("Year %d", year))
	if err != nil {
		t.Fatalf("GetRows year sheet: %v", err)
	}
	// header plus the four seeded invoices
	if len(rows) != 5 {
		t.Fatalf("expected 5 rows on the year sheet, got %d", len(rows))
	}
	if rows[1][1] != fmt.Sprintf("FA-%d-00001", year) {
		t.Fatalf("expected first invoice number on the year sheet, got %q", rows[1][1])
	}

	findings, err := f.GetRows("Findings")
	if err != nil {
		t.Fatalf("GetRows findings sheet: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("expected header plus 2 findings, got %d rows", len(findings))
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("facture-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("facture-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=facture_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
