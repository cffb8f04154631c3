package common

import "time"

// Environment variable keys
const (
	EnvConfigFile        = "CONFIG_FILE"
	EnvModelDir          = "MODEL_DIR"
	EnvDataPath          = "DATA_PATH"
	EnvListenPort        = "LISTEN_PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvCacheSize         = "CACHE_SIZE"
	EnvBatchWorkers      = "BATCH_WORKERS"
	EnvContinueOnError   = "CONTINUE_ON_ERROR"
	EnvRequestTimeout    = "REQUEST_TIMEOUT"
	EnvMaxUploadBytes    = "MAX_UPLOAD_BYTES"
	EnvMinCreditScore    = "MIN_CREDIT_SCORE"
	EnvMaxApprovalDTI    = "MAX_APPROVAL_DTI"
	EnvIncomeCeiling     = "INCOME_CEILING"
	EnvAmountDTICeiling  = "AMOUNT_DTI_CEILING"
	EnvSuspiciousCluster = "SUSPICIOUS_CLUSTER"
	EnvDriftWindow       = "DRIFT_WINDOW"
	EnvDriftMeanShift    = "DRIFT_MEAN_SHIFT"
	EnvDriftRangeExit    = "DRIFT_RANGE_EXIT"
)

// Configuration defaults
const (
	DefaultModelDir          = "models"
	DefaultListenPort        = 8080
	DefaultLogLevel          = "info"
	DefaultCacheSize         = 1024
	DefaultBatchWorkers      = 1
	DefaultMaxUploadBytes    = 32 << 20
	DefaultRequestTimeout    = 30 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMinCreditScore    = 500.0
	DefaultMaxApprovalDTI    = 50.0
	DefaultIncomeCeiling     = 200000.0
	DefaultAmountDTICeiling  = 60.0
	DefaultSuspiciousCluster = 0
	DefaultDriftWindow       = 500
	DefaultDriftMeanShift    = 0.5
	DefaultDriftRangeExit    = 0.05
	DefaultDriftCooldown     = 10 * time.Minute
)

// Artifact names. Each is stored as <name>.json in the model directory.
const (
	ArtifactLoanClassifier   = "loan_classifier"
	ArtifactLoanScaler       = "loan_scaler"
	ArtifactAmountRegressor  = "loan_amount_regressor"
	ArtifactAmountScaler     = "loan_amount_scaler"
	ArtifactFraudClusterer   = "fraud_cluster"
	ArtifactFraudScaler      = "fraud_scaler"
	ArtifactFileExtension    = ".json"
	ArtifactKindStdScaler    = "standard_scaler"
	ArtifactKindMinMaxScaler = "minmax_scaler"
	ArtifactKindLogistic     = "logistic_regression"
	ArtifactKindLinear       = "linear_regression"
	ArtifactKindKMeans       = "kmeans"
)

// Dataset column names shared by single-record requests and batch files.
const (
	ColIncome           = "Income"
	ColCreditScore      = "Credit_Score"
	ColLoanAmount       = "Loan_Amount"
	ColDTIRatio         = "DTI_Ratio"
	ColEmploymentStatus = "Employment_Status"
	ColTxnAmount        = "Transaction_Amount"
	ColAccountBalance   = "Account_Balance"
	ColAge              = "Age"
	ColTxnType          = "Transaction_Type"
	ColMerchantCategory = "Merchant_Category"
	ColTxnDevice        = "Transaction_Device"
	ColLoanStatus       = "Loan_Status"
	ColEligibleAmount   = "Eligible_Loan_Amount"
	ColFraudStatus      = "Fraud_Status"
)

// Validation constants
const (
	MinListenPort   = 1024
	MaxListenPort   = 65535
	MaxCacheSize    = 1 << 20
	MaxBatchWorkers = 256
	MaxDriftWindow  = 100000
	MaxCreditScore  = 900.0
	MaxDTIPercent   = 100.0
	MinTimeout      = time.Second
	MaxTimeout      = 10 * time.Minute
)
