package report

// Schema is the DDL of the SQLite report database. Dates are RFC 3339 text.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	dir         TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	halted      INTEGER NOT NULL DEFAULT 0,
	halt_error  TEXT,
	patients    INTEGER NOT NULL DEFAULT 0,
	records     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS diagnoses (
	diagnosis_id   TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	ordinal        INTEGER NOT NULL,
	patient_id     TEXT NOT NULL,
	document_ref   TEXT NOT NULL,
	diagnosis      TEXT NOT NULL,
	admission_date TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_diagnoses_run ON diagnoses(run_id, ordinal);
CREATE INDEX IF NOT EXISTS idx_diagnoses_patient ON diagnoses(patient_id);

CREATE TABLE IF NOT EXISTS skipped_documents (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	patient_id   TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	doc_date     TEXT NOT NULL,
	kind         TEXT NOT NULL CHECK(kind IN ('pdf','bitmap','jpeg')),
	detail       TEXT,
	PRIMARY KEY (run_id, document_ref)
);

CREATE TABLE IF NOT EXISTS patient_failures (
	run_id     TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	patient_id TEXT NOT NULL,
	status     TEXT NOT NULL CHECK(status IN ('unreadable','fatal')),
	error      TEXT NOT NULL,
	PRIMARY KEY (run_id, patient_id)
);

CREATE TABLE IF NOT EXISTS visit_summaries (
	run_id       TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	patient_id   TEXT NOT NULL,
	document_ref TEXT NOT NULL,
	discharge    TEXT NOT NULL,
	year_visits  INTEGER NOT NULL,
	qtr_visits   INTEGER NOT NULL,
	after_visits INTEGER NOT NULL,
	unreadable   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, document_ref)
);

CREATE TABLE IF NOT EXISTS no_followup_patients (
	run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
	patient_id     TEXT NOT NULL,
	age            INTEGER NOT NULL,
	sex_code       TEXT,
	ethnic_code    TEXT,
	smoking_status TEXT,
	PRIMARY KEY (run_id, patient_id)
);
`
