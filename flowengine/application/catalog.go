// Package application implementa el motor de flujos conversacionales: el
// catálogo validado de definiciones, el macro-paso que avanza sesiones nodo a
// nodo y los schedulers de reanudación (delay y webhook entrante).
package application

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	crmDomain "github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
)

// FlowCatalog sirve definiciones validadas con un caché de lectura encima del
// repositorio durable. Toda escritura pasa por Save, que valida el grafo antes
// de persistir e invalida la entrada cacheada.
type FlowCatalog struct {
	repo domain.IFlowRepository

	mu    sync.RWMutex
	cache map[string]domain.FlowDefinition
}

func NewFlowCatalog(repo domain.IFlowRepository) *FlowCatalog {
	return &FlowCatalog{repo: repo, cache: make(map[string]domain.FlowDefinition)}
}

// Get devuelve la definición por id, cacheada tras la primera lectura.
func (c *FlowCatalog) Get(ctx context.Context, id string) (domain.FlowDefinition, error) {
	c.mu.RLock()
	f, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	f, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return domain.FlowDefinition{}, err
	}
	c.mu.Lock()
	c.cache[id] = f
	c.mu.Unlock()
	return f, nil
}

// Save valida y persiste, invalidando el caché de la definición.
func (c *FlowCatalog) Save(ctx context.Context, f *domain.FlowDefinition) error {
	if err := ValidateFlow(f); err != nil {
		return err
	}
	if err := c.repo.Save(ctx, f); err != nil {
		return err
	}
	c.Invalidate(f.ID)
	logrus.Infof("[FLOW] Flow %s (%s) saved, version %d", f.ID, f.Name, f.Version)
	return nil
}

func (c *FlowCatalog) Invalidate(id string) {
	c.mu.Lock()
	delete(c.cache, id)
	c.mu.Unlock()
}

func (c *FlowCatalog) List(ctx context.Context) ([]domain.FlowDefinition, error) {
	return c.repo.List(ctx)
}

func (c *FlowCatalog) Delete(ctx context.Context, id string) error {
	if err := c.repo.Delete(ctx, id); err != nil {
		return err
	}
	c.Invalidate(id)
	return nil
}

func (c *FlowCatalog) SetDefault(ctx context.Context, id string) error {
	if err := c.repo.SetDefault(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache = make(map[string]domain.FlowDefinition)
	c.mu.Unlock()
	return nil
}

// EntryFlow resuelve el flujo de entrada de un canal: su default_flow_id si lo
// tiene, si no el flujo global por defecto.
func (c *FlowCatalog) EntryFlow(ctx context.Context, channel crmDomain.ChannelConnection) (domain.FlowDefinition, error) {
	if channel.DefaultFlowID != "" {
		return c.Get(ctx, channel.DefaultFlowID)
	}
	f, err := c.repo.GetDefault(ctx)
	if err != nil {
		return domain.FlowDefinition{}, err
	}
	return f, nil
}

// ValidateFlow aplica las reglas estructurales del grafo: exactamente un nodo
// start, aristas sin extremos colgantes, handles que existen en su nodo
// origen, payloads tipados que decodifican estricto y ningún nodo inalcanzable
// salvo que el autor lo permita explícitamente.
func ValidateFlow(f *domain.FlowDefinition) error {
	if err := validation.ValidateStruct(f,
		validation.Field(&f.ID, validation.Required),
		validation.Field(&f.Name, validation.Required),
		validation.Field(&f.BotTimeoutMinutes, validation.Min(0)),
		validation.Field(&f.Nodes, validation.Required),
	); err != nil {
		return pkgError.ValidationError(err.Error())
	}

	starts := 0
	byID := make(map[string]*domain.Node, len(f.Nodes))
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.ID == "" {
			return pkgError.ValidationError("flow has a node without id")
		}
		if _, dup := byID[n.ID]; dup {
			return pkgError.ValidationError(fmt.Sprintf("duplicate node id %q", n.ID))
		}
		byID[n.ID] = n
		if n.Type == domain.NodeStart {
			starts++
		}
		if err := validateNodeData(n); err != nil {
			return err
		}
	}
	if starts != 1 {
		return pkgError.ValidationError(fmt.Sprintf("flow must have exactly one start node, found %d", starts))
	}

	for _, e := range f.Edges {
		src, ok := byID[e.FromNode]
		if !ok {
			return pkgError.ValidationError(fmt.Sprintf("edge from unknown node %q", e.FromNode))
		}
		if _, ok := byID[e.ToNode]; !ok {
			return pkgError.ValidationError(fmt.Sprintf("edge to unknown node %q", e.ToNode))
		}
		if !handleExists(src, e.FromHandle) {
			return pkgError.ValidationError(fmt.Sprintf("node %q (%s) has no handle %q", e.FromNode, src.Type, e.FromHandle))
		}
	}

	if !f.AllowUnreachable {
		if unreachable := unreachableNodes(f, byID); len(unreachable) > 0 {
			return pkgError.ValidationError(fmt.Sprintf("unreachable nodes: %v", unreachable))
		}
	}
	return nil
}

// handleExists decide si un handle es legal para el tipo del nodo origen.
// out:error se acepta en todo nodo que ejecuta algo que puede fallar.
func handleExists(n *domain.Node, handle string) bool {
	for _, h := range allowedHandles(n) {
		if h == handle {
			return true
		}
	}
	return false
}

func allowedHandles(n *domain.Node) []string {
	switch n.Type {
	case domain.NodeStart, domain.NodeMessage, domain.NodeAttachment, domain.NodeDelay:
		return []string{domain.HandleDefault, domain.HandleError}
	case domain.NodeButtons, domain.NodeMenu:
		return optionHandles(n, []string{domain.HandleError})
	case domain.NodeQuestion:
		return []string{domain.HandleDefault, domain.HandleMatch, domain.HandleError}
	case domain.NodeValidation:
		return []string{domain.HandleMatch, domain.HandleNoMatch, domain.HandleError}
	case domain.NodeCondition:
		return []string{domain.HandleDefault, domain.HandleNoMatch, domain.HandleError}
	case domain.NodeScheduler:
		return []string{domain.HandleInHours, domain.HandleOutOfHours, domain.HandleError}
	case domain.NodeWebhookOut:
		return []string{domain.HandleSuccess, domain.HandleError}
	case domain.NodeWebhookIn:
		return []string{domain.HandleDefault, domain.HandleError}
	case domain.NodeAgent:
		return []string{domain.HandleDefault, domain.HandleError}
	case domain.NodeTransfer, domain.NodeEnd:
		return nil
	default:
		return nil
	}
}

func optionHandles(n *domain.Node, extra []string) []string {
	count := 0
	switch n.Type {
	case domain.NodeButtons:
		var data domain.ButtonsData
		if err := n.DecodeData(&data); err == nil {
			count = len(data.Options)
		}
	case domain.NodeMenu:
		var data domain.MenuData
		if err := n.DecodeData(&data); err == nil {
			count = len(data.Options)
		}
	}
	handles := make([]string, 0, count+len(extra))
	for i := 0; i < count; i++ {
		handles = append(handles, domain.HandleOption(i))
	}
	return append(handles, extra...)
}

// validateNodeData decodifica el payload tipado del nodo y aplica las reglas
// semánticas de cada variante.
func validateNodeData(n *domain.Node) error {
	if n.Action != nil && n.Action.Kind != "" {
		if want := domain.ActionKindFor(n.Type); want != "" && n.Action.Kind != want {
			return pkgError.ValidationError(fmt.Sprintf("node %q: action kind %q does not match type %s", n.ID, n.Action.Kind, n.Type))
		}
	}

	fail := func(err error) error { return pkgError.ValidationError(err.Error()) }
	switch n.Type {
	case domain.NodeStart, domain.NodeEnd:
		return nil
	case domain.NodeMessage:
		var d domain.MessageData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.Text == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: message text is required", n.ID))
		}
	case domain.NodeButtons:
		var d domain.ButtonsData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if len(d.Options) == 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: buttons need at least one option", n.ID))
		}
	case domain.NodeQuestion:
		var d domain.QuestionData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.VarName == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: question var_name is required", n.ID))
		}
		if d.Validation != nil {
			if err := validateValidationData(n.ID, d.Validation); err != nil {
				return err
			}
		}
	case domain.NodeValidation:
		var d domain.ValidationData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		return validateValidationData(n.ID, &d)
	case domain.NodeCondition:
		var d domain.ConditionData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if len(d.Rules) == 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: condition needs at least one rule", n.ID))
		}
		if d.Combine != "all" && d.Combine != "any" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: combine must be all or any", n.ID))
		}
	case domain.NodeMenu:
		var d domain.MenuData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if len(d.Options) == 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: menu needs at least one option", n.ID))
		}
		if d.Mode != "" && d.Mode != "interactive" && d.Mode != "text" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: menu mode %q is not valid", n.ID, d.Mode))
		}
	case domain.NodeAttachment:
		var d domain.AttachmentData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.URL == "" && d.MediaID == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: attachment needs url or media_id", n.ID))
		}
	case domain.NodeDelay:
		var d domain.DelayData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.Seconds < domain.DelayMinSeconds || d.Seconds > domain.DelayMaxSeconds {
			return pkgError.ValidationError(fmt.Sprintf("node %q: delay seconds must be in [%d,%d]", n.ID, domain.DelayMinSeconds, domain.DelayMaxSeconds))
		}
	case domain.NodeScheduler:
		var d domain.SchedulerData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.Source == "" || d.Source == "queue" {
			if d.QueueID == "" {
				return pkgError.ValidationError(fmt.Sprintf("node %q: scheduler with queue source needs queue_id", n.ID))
			}
		}
	case domain.NodeWebhookOut:
		var d domain.WebhookOutData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.URL == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: webhook url is required", n.ID))
		}
	case domain.NodeWebhookIn:
		if n.Action != nil && len(n.Action.Data) > 0 {
			var d domain.WebhookInData
			if err := n.DecodeData(&d); err != nil {
				return fail(err)
			}
		}
	case domain.NodeTransfer:
		var d domain.TransferData
		if err := n.DecodeData(&d); err != nil {
			return fail(err)
		}
		if d.QueueID == "" && d.AdvisorID == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: transfer needs queue_id or advisor_id", n.ID))
		}
	case domain.NodeAgent:
		if n.Action != nil && len(n.Action.Data) > 0 {
			var d domain.AgentData
			if err := n.DecodeData(&d); err != nil {
				return fail(err)
			}
		}
	default:
		return pkgError.ValidationError(fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
	}
	return nil
}

func validateValidationData(nodeID string, d *domain.ValidationData) error {
	switch d.Mode {
	case "keywords":
		if len(d.Keywords) == 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: keywords mode needs at least one group", nodeID))
		}
		if d.Combine != "" && d.Combine != "and" && d.Combine != "or" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: keywords combine must be and or or", nodeID))
		}
		for _, g := range d.Keywords {
			if g.Mode != "contains" && g.Mode != "exact" {
				return pkgError.ValidationError(fmt.Sprintf("node %q: keyword group mode %q is not valid", nodeID, g.Mode))
			}
			if len(g.Terms) == 0 {
				return pkgError.ValidationError(fmt.Sprintf("node %q: keyword group without terms", nodeID))
			}
		}
	case "format":
		switch d.Format {
		case "email", "phone", "dni", "ruc":
		default:
			return pkgError.ValidationError(fmt.Sprintf("node %q: unknown format %q", nodeID, d.Format))
		}
	case "variable":
		if d.Variable == "" {
			return pkgError.ValidationError(fmt.Sprintf("node %q: variable mode needs a variable name", nodeID))
		}
	case "range":
		if d.Min == nil && d.Max == nil {
			return pkgError.ValidationError(fmt.Sprintf("node %q: range mode needs min or max", nodeID))
		}
	case "length":
		if d.MinLength <= 0 && d.MaxLength <= 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: length mode needs min_length or max_length", nodeID))
		}
	case "regex":
		if _, err := regexp.Compile(d.Regex); err != nil {
			return pkgError.ValidationError(fmt.Sprintf("node %q: bad regex: %v", nodeID, err))
		}
	case "options_list":
		if len(d.Options) == 0 {
			return pkgError.ValidationError(fmt.Sprintf("node %q: options_list mode needs options", nodeID))
		}
	default:
		return pkgError.ValidationError(fmt.Sprintf("node %q: unknown validation mode %q", nodeID, d.Mode))
	}
	return nil
}

// unreachableNodes corre BFS desde el start sobre las aristas.
func unreachableNodes(f *domain.FlowDefinition, byID map[string]*domain.Node) []string {
	start, err := f.Start()
	if err != nil {
		return nil
	}
	seen := map[string]bool{start.ID: true}
	frontier := []string{start.ID}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		for _, e := range f.Edges {
			if e.FromNode == id && !seen[e.ToNode] {
				seen[e.ToNode] = true
				frontier = append(frontier, e.ToNode)
			}
		}
	}
	var missing []string
	for id := range byID {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
