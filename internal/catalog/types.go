package catalog

// Question is a single quiz question with an ordered option list.
// Correct is the zero-based index of the right option.
type Question struct {
	Question string   `yaml:"question" json:"question"`
	Options  []string `yaml:"options" json:"options"`
	Correct  int      `yaml:"correct" json:"-"`
}

// Module represents one catalog-defined unit of lesson content plus its quiz.
type Module struct {
	ID               string     `yaml:"id" json:"id"`
	Track            string     `yaml:"track" json:"track"`
	Title            string     `yaml:"title" json:"title"`
	Objective        string     `yaml:"objective" json:"objective"`
	Lesson           string     `yaml:"lesson" json:"lesson"`
	Quiz             []Question `yaml:"quiz" json:"quiz"`
	CertificateLabel string     `yaml:"zk_cert" json:"zk_cert"`
	Skills           []string   `yaml:"skills" json:"skills"`
}

// Track is a named grouping of modules in catalog order.
type Track struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Modules     []Module `json:"modules"`
}

// trackFile is the on-disk shape of a catalog YAML file: one track's
// worth of modules in their teaching order.
type trackFile struct {
	Track       string   `yaml:"track"`
	Description string   `yaml:"description"`
	Modules     []Module `yaml:"modules"`
}
