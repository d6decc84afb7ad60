package config

import (
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// DetectionConfig tunes the geometric receipt detector. Area ratios are
// relative to the page, aspect is height/width.
type DetectionConfig struct {
	MinAreaRatio    float64 `yaml:"min_area_ratio"`
	MaxAreaRatio    float64 `yaml:"max_area_ratio"`
	MinAspect       float64 `yaml:"min_aspect"`
	NearSquareArea  float64 `yaml:"near_square_area"`
	NearSquareRatio float64 `yaml:"near_square_ratio"`
	IoUThreshold    float64 `yaml:"iou_threshold"`
	MinRegionWidth  int     `yaml:"min_region_width"`
	MinRegionHeight int     `yaml:"min_region_height"`

	BlurSigma      float64 `yaml:"blur_sigma"`
	ThresholdBlock int     `yaml:"threshold_block"`
	ThresholdC     float64 `yaml:"threshold_c"`
	CloseKernelW   int     `yaml:"close_kernel_w"`
	CloseKernelH   int     `yaml:"close_kernel_h"`
	OpenKernel     int     `yaml:"open_kernel"`
	EdgeThreshold  float64 `yaml:"edge_threshold"`
}

// VATConfig tunes tax reconciliation. Rates are percentages.
type VATConfig struct {
	ValidRates       []float64 `yaml:"valid_rates"`
	SnapTolerance    float64   `yaml:"snap_tolerance"`
	MaxPlausibleRate float64   `yaml:"max_plausible_rate"`
	AmountTolerance  float64   `yaml:"amount_tolerance"`
}

// PipelineConfig aggregates the numeric tuning of the processing pipeline.
// Defaults work for Dutch-style receipts; a YAML file named by
// PIPELINE_CONFIG overrides individual values.
type PipelineConfig struct {
	Detection  DetectionConfig `yaml:"detection"`
	VAT        VATConfig       `yaml:"vat"`
	MaxWorkers int             `yaml:"max_workers"`
}

func defaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Detection: DetectionConfig{
			MinAreaRatio:    0.02,
			MaxAreaRatio:    0.95,
			MinAspect:       1.0,
			NearSquareArea:  0.25,
			NearSquareRatio: 0.75,
			IoUThreshold:    0.3,
			MinRegionWidth:  80,
			MinRegionHeight: 120,
			BlurSigma:       1.0,
			ThresholdBlock:  35,
			ThresholdC:      10,
			CloseKernelW:    25,
			CloseKernelH:    45,
			OpenKernel:      5,
			EdgeThreshold:   128,
		},
		VAT: VATConfig{
			ValidRates:       []float64{0, 9, 21},
			SnapTolerance:    2.0,
			MaxPlausibleRate: 30,
			AmountTolerance:  0.02,
		},
		MaxWorkers: 4,
	}
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()

		pipelineConfig = defaultPipelineConfig()

		if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("Warning: cannot read pipeline config %s: %v, using defaults", path, err)
			} else if err := yaml.Unmarshal(data, pipelineConfig); err != nil {
				log.Printf("Warning: cannot parse pipeline config %s: %v, using defaults", path, err)
				pipelineConfig = defaultPipelineConfig()
			}
		}

		if rates := getEnvFloats("VALID_VAT_RATES", nil); rates != nil {
			pipelineConfig.VAT.ValidRates = rates
		}
		pipelineConfig.VAT.SnapTolerance = getEnvFloat("VAT_SNAP_TOLERANCE", pipelineConfig.VAT.SnapTolerance)
		pipelineConfig.VAT.AmountTolerance = getEnvFloat("VAT_AMOUNT_TOLERANCE", pipelineConfig.VAT.AmountTolerance)
		pipelineConfig.MaxWorkers = getEnvInt("PIPELINE_MAX_WORKERS", pipelineConfig.MaxWorkers)
	})
	return pipelineConfig
}
