// Пакет model — доменные модели реестра наборов данных.
// Dataset — агрегат, владеющий упорядоченным списком FileRecord.
package model

// Category — тематическая категория набора данных.
type Category string

const (
	CategoryDemographics Category = "demographics"
	CategoryEducation    Category = "education"
	CategoryEconomy      Category = "economy"
	CategoryHealth       Category = "health"
	CategoryAgriculture  Category = "agriculture"
)

// Categories — допустимые категории.
var Categories = []Category{
	CategoryDemographics,
	CategoryEducation,
	CategoryEconomy,
	CategoryHealth,
	CategoryAgriculture,
}

// StateAllIndia — значение State для общенациональных данных.
const StateAllIndia = "all-india"

// States — коды штатов и союзных территорий Индии плюс all-india.
var States = []string{
	"andhra-pradesh",
	"arunachal-pradesh",
	"assam",
	"bihar",
	"chhattisgarh",
	"goa",
	"gujarat",
	"haryana",
	"himachal-pradesh",
	"jharkhand",
	"karnataka",
	"kerala",
	"madhya-pradesh",
	"maharashtra",
	"manipur",
	"meghalaya",
	"mizoram",
	"nagaland",
	"odisha",
	"punjab",
	"rajasthan",
	"sikkim",
	"tamil-nadu",
	"telangana",
	"tripura",
	"uttar-pradesh",
	"uttarakhand",
	"west-bengal",
	// Союзные территории
	"andaman-and-nicobar-islands",
	"chandigarh",
	"dadra-and-nagar-haveli",
	"daman-and-diu",
	"delhi",
	"jammu-and-kashmir",
	"ladakh",
	"lakshadweep",
	"puducherry",
	StateAllIndia,
}

// DataQuality — признак проверки качества данных.
type DataQuality string

const (
	QualityVerified   DataQuality = "verified"
	QualityPending    DataQuality = "pending"
	QualityUnverified DataQuality = "unverified"
)

// UpdateFrequency — периодичность обновления набора данных.
type UpdateFrequency string

const (
	FrequencyDaily     UpdateFrequency = "daily"
	FrequencyWeekly    UpdateFrequency = "weekly"
	FrequencyMonthly   UpdateFrequency = "monthly"
	FrequencyQuarterly UpdateFrequency = "quarterly"
	FrequencyYearly    UpdateFrequency = "yearly"
	FrequencyIrregular UpdateFrequency = "irregular"
)

// Coverage — географический охват набора данных.
type Coverage string

const (
	CoverageNational Coverage = "national"
	CoverageState    Coverage = "state"
	CoverageDistrict Coverage = "district"
	CoverageCity     Coverage = "city"
	CoverageVillage  Coverage = "village"
)

// Границы допустимого года набора данных.
const (
	MinYear = 1900
	MaxYear = 2030
)
