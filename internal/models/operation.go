package models

// Operation names one transformation the service offers.
type Operation string

const (
	OpMerge        Operation = "merge"
	OpSplit        Operation = "split"
	OpCompress     Operation = "compress"
	OpRotate       Operation = "rotate-pdf"
	OpCrop         Operation = "crop-pdf"
	OpWatermark    Operation = "watermark"
	OpOverwrite    Operation = "overwrite-text"
	OpPageNumbers  Operation = "page-numbers"
	OpProtect      Operation = "protect-pdf"
	OpUnlock       Operation = "unlock-pdf"
	OpImagesToPDF  Operation = "images-to-pdf"
	OpExtractText  Operation = "extract-text"
	OpWordToPDF    Operation = "word-to-pdf"
	OpExcelToPDF   Operation = "excel-to-pdf"
	OpPPTToPDF     Operation = "ppt-to-pdf"
	OpOfficeToPDF  Operation = "office-to-pdf"
	OpHTMLToPDF    Operation = "html-to-pdf"
	OpPDFToWord    Operation = "pdf-to-word"
	OpPDFToExcel   Operation = "pdf-to-excel"
	OpPDFToPPT     Operation = "pdf-to-ppt"
)

// Conversion describes a remote conversion direction: the accepted source
// formats (file extensions without the dot) and the fixed output format.
type Conversion struct {
	Sources []string
	Target  string
}

var conversions = map[Operation]Conversion{
	OpWordToPDF:   {Sources: []string{"doc", "docx", "odt", "rtf"}, Target: "pdf"},
	OpExcelToPDF:  {Sources: []string{"xls", "xlsx", "ods", "csv"}, Target: "pdf"},
	OpPPTToPDF:    {Sources: []string{"ppt", "pptx", "odp"}, Target: "pdf"},
	OpOfficeToPDF: {Sources: []string{"doc", "docx", "odt", "rtf", "xls", "xlsx", "ods", "csv", "ppt", "pptx", "odp"}, Target: "pdf"},
	OpHTMLToPDF:   {Sources: []string{"html", "htm"}, Target: "pdf"},
	OpPDFToWord:   {Sources: []string{"pdf"}, Target: "docx"},
	OpPDFToExcel:  {Sources: []string{"pdf"}, Target: "xlsx"},
	OpPDFToPPT:    {Sources: []string{"pdf"}, Target: "pptx"},
}

var localOps = map[Operation]bool{
	OpMerge: true, OpSplit: true, OpCompress: true, OpRotate: true, OpCrop: true,
	OpWatermark: true, OpOverwrite: true, OpPageNumbers: true, OpProtect: true,
	OpUnlock: true, OpImagesToPDF: true, OpExtractText: true,
}

// Known reports whether op is offered at all.
func (op Operation) Known() bool {
	_, remote := conversions[op]
	return remote || localOps[op]
}

// Remote reports whether op is delegated to the conversion backend.
func (op Operation) Remote() bool {
	_, ok := conversions[op]
	return ok
}

// Conversion returns the conversion direction of a remote operation.
func (op Operation) Conversion() (Conversion, bool) {
	c, ok := conversions[op]
	return c, ok
}

// MultiInput reports whether op accepts more than one payload.
func (op Operation) MultiInput() bool {
	return op == OpMerge || op == OpImagesToPDF
}

// Accepts reports whether ext (lower case, no dot) is a valid source format.
func (c Conversion) Accepts(ext string) bool {
	for _, s := range c.Sources {
		if s == ext {
			return true
		}
	}
	return false
}

// Operations lists every operation, local ones first.
func Operations() []Operation {
	return []Operation{
		OpMerge, OpSplit, OpCompress, OpRotate, OpCrop, OpWatermark, OpOverwrite,
		OpPageNumbers, OpProtect, OpUnlock, OpImagesToPDF, OpExtractText,
		OpWordToPDF, OpExcelToPDF, OpPPTToPDF, OpOfficeToPDF, OpHTMLToPDF,
		OpPDFToWord, OpPDFToExcel, OpPDFToPPT,
	}
}
