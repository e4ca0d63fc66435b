package receiver

type Progress struct {
	Written uint64
	Total   uint64
	Percent float64
}

type Options struct {
	OutputDir  string
	Suffix     string
	OnProgress func(Progress)
}

func NewDefaultOptions() *Options {
	return &Options{
		OutputDir: ".",
		Suffix:    ".recv",
	}
}
