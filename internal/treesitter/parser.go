package treesitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// grammarFor maps a file extension to its tree-sitter grammar; nil means
// the index skips the file. Go is the only wired grammar today — adding a
// language is a case here plus an extract function below.
func grammarFor(ext string) *sitter.Language {
	if ext == ".go" {
		return golang.GetLanguage()
	}
	return nil
}

// Supported reports whether path's extension has a grammar.
func Supported(path string) bool {
	return grammarFor(strings.ToLower(filepath.Ext(path))) != nil
}

// ParseFile reads path and extracts its top-level symbols.
func ParseFile(path string) ([]Symbol, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSource(path, src)
}

// ParseSource extracts top-level symbols from source bytes.
func ParseSource(path string, src []byte) ([]Symbol, error) {
	lang := grammarFor(strings.ToLower(filepath.Ext(path)))
	if lang == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	w := walker{src: src}
	return w.topLevel(tree.RootNode()), nil
}

// walker extracts symbols from one parsed file.
type walker struct {
	src []byte
}

// topLevel dispatches on the root's direct children.
func (w walker) topLevel(root *sitter.Node) []Symbol {
	var syms []Symbol
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(i)
		switch node.Type() {
		case "package_clause":
			// The package identifier is a named child, not a field.
			if nc := node.NamedChild(0); nc != nil && nc.Type() == "package_identifier" {
				syms = append(syms, w.symbol(nc, KindPackage, node))
			}
		case "import_declaration":
			sym := w.symbol(node, KindImport, node)
			sym.Name = strings.TrimSpace(sym.Name)
			syms = append(syms, sym)
		case "function_declaration":
			syms = append(syms, w.function(node))
		case "method_declaration":
			syms = append(syms, w.method(node))
		case "type_declaration":
			syms = append(syms, w.typeDecl(node)...)
		case "const_declaration":
			syms = append(syms, w.specs(node, "const_spec", KindConst)...)
		case "var_declaration":
			syms = append(syms, w.specs(node, "var_spec", KindVar)...)
		}
	}
	return syms
}

// symbol builds a Symbol named after nameNode, spanning span.
func (w walker) symbol(nameNode *sitter.Node, kind SymbolKind, span *sitter.Node) Symbol {
	return Symbol{
		Name:      w.text(nameNode),
		Kind:      kind,
		StartLine: startLine(span),
		EndLine:   endLine(span),
	}
}

func (w walker) function(node *sitter.Node) Symbol {
	sym := Symbol{Kind: KindFunction, StartLine: startLine(node), EndLine: endLine(node)}
	if name := node.ChildByFieldName("name"); name != nil {
		sym.Name = w.text(name)
	}
	sym.Signature = w.funcSignature("", sym.Name, node)
	return sym
}

func (w walker) method(node *sitter.Node) Symbol {
	sym := Symbol{Kind: KindMethod, StartLine: startLine(node), EndLine: endLine(node)}
	if name := node.ChildByFieldName("name"); name != nil {
		sym.Name = w.text(name)
	}
	recv := ""
	if receiver := node.ChildByFieldName("receiver"); receiver != nil {
		recv = w.text(receiver)
		sym.Receiver = w.receiverType(receiver)
	}
	sym.Signature = w.funcSignature(recv, sym.Name, node)
	return sym
}

// typeDecl yields one symbol per type_spec/type_alias; structs and
// interfaces additionally carry their members as children.
func (w walker) typeDecl(node *sitter.Node) []Symbol {
	var syms []Symbol
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
			continue
		}
		sym := Symbol{Kind: KindType, StartLine: startLine(spec), EndLine: endLine(spec)}
		if name := spec.ChildByFieldName("name"); name != nil {
			sym.Name = w.text(name)
		}
		if typeNode := spec.ChildByFieldName("type"); typeNode != nil {
			switch typeNode.Type() {
			case "struct_type":
				sym.Kind = KindStruct
				sym.Children = w.structFields(typeNode)
			case "interface_type":
				sym.Kind = KindInterface
				sym.Children = w.interfaceMethods(typeNode)
			}
			sym.Signature = "type " + sym.Name + " " + typeNode.Type()
		}
		syms = append(syms, sym)
	}
	return syms
}

func (w walker) structFields(structType *sitter.Node) []Symbol {
	body := structType.ChildByFieldName("body")
	if body == nil {
		// Grammar variation: the field list can be a plain child.
		for i := 0; i < int(structType.ChildCount()); i++ {
			if c := structType.Child(i); c.Type() == "field_declaration_list" {
				body = c
				break
			}
		}
	}
	if body == nil {
		return nil
	}

	var fields []Symbol
	for i := 0; i < int(body.ChildCount()); i++ {
		decl := body.Child(i)
		if decl.Type() != "field_declaration" {
			continue
		}
		name := decl.ChildByFieldName("name")
		if name == nil {
			continue
		}
		f := w.symbol(name, KindVar, decl)
		if typeNode := decl.ChildByFieldName("type"); typeNode != nil {
			f.Signature = f.Name + " " + w.text(typeNode)
		}
		fields = append(fields, f)
	}
	return fields
}

func (w walker) interfaceMethods(ifaceType *sitter.Node) []Symbol {
	var methods []Symbol
	for i := 0; i < int(ifaceType.ChildCount()); i++ {
		elem := ifaceType.Child(i)
		if elem.Type() != "method_elem" && elem.Type() != "method_spec" {
			continue
		}
		name := elem.ChildByFieldName("name")
		if name == nil {
			continue
		}
		m := w.symbol(name, KindMethod, elem)
		m.Signature = w.text(elem)
		methods = append(methods, m)
	}
	return methods
}

// specs extracts names from const/var specs inside a declaration.
func (w walker) specs(node *sitter.Node, specType string, kind SymbolKind) []Symbol {
	var syms []Symbol
	for i := 0; i < int(node.ChildCount()); i++ {
		spec := node.Child(i)
		if spec.Type() != specType {
			continue
		}
		if name := spec.ChildByFieldName("name"); name != nil {
			syms = append(syms, w.symbol(name, kind, spec))
		}
	}
	return syms
}

// receiverType digs the bare type name out of a receiver parameter list.
func (w walker) receiverType(receiver *sitter.Node) string {
	for i := 0; i < int(receiver.ChildCount()); i++ {
		if decl := receiver.Child(i); decl.Type() == "parameter_declaration" {
			if typeNode := decl.ChildByFieldName("type"); typeNode != nil {
				return w.text(typeNode)
			}
		}
	}
	return ""
}

// funcSignature renders "func (recv) Name(params) result".
func (w walker) funcSignature(receiver, name string, node *sitter.Node) string {
	var b strings.Builder
	b.WriteString("func ")
	if receiver != "" {
		b.WriteString(receiver)
		b.WriteByte(' ')
	}
	b.WriteString(name)
	if params := node.ChildByFieldName("parameters"); params != nil {
		b.WriteString(w.text(params))
	}
	if result := node.ChildByFieldName("result"); result != nil {
		b.WriteByte(' ')
		b.WriteString(w.text(result))
	}
	return b.String()
}

func (w walker) text(node *sitter.Node) string {
	return node.Content(w.src)
}

func startLine(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func endLine(node *sitter.Node) int {
	return int(node.EndPoint().Row) + 1
}
